package identity

import (
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/xxxsen/kbchat/internal/model"
)

const UnknownUser = "unknown"

const (
	HeaderUserName       = "x-user-name"
	HeaderUserARN        = "x-user-arn"
	HeaderUserGroup      = "x-user-group"
	HeaderUserPerson     = "x-user-person"
	HeaderUserTeam       = "x-user-team"
	HeaderConversationID = "x-conversation-id"
)

// Source is what identity is read from: lower-cased headers plus the
// platform request context.
type Source struct {
	Headers map[string]string
	Context events.APIGatewayProxyRequestContext
}

func NewSource(headers map[string]string, reqCtx events.APIGatewayProxyRequestContext) Source {
	return Source{Headers: LowerHeaders(headers), Context: reqCtx}
}

func LowerHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Extractor returns the fields it knows about; empty fields are ignored.
type Extractor func(src Source) model.Identity

var defaultExtractors = []Extractor{
	fromHeaders,
	fromAuthorizer,
	fromCallerIdentity,
	fromRequestIDs,
}

// Extract merges the extractors with first-non-empty-wins per field. It never
// fails; Username falls back to "unknown".
func Extract(src Source) model.Identity {
	return ExtractWith(src, defaultExtractors...)
}

func ExtractWith(src Source, extractors ...Extractor) model.Identity {
	var id model.Identity
	for _, ex := range extractors {
		merge(&id, ex(src))
	}
	if id.Username == "" {
		id.Username = UnknownUser
	}
	return id
}

func merge(dst *model.Identity, src model.Identity) {
	pick(&dst.Username, src.Username)
	pick(&dst.ARN, src.ARN)
	pick(&dst.Group, src.Group)
	pick(&dst.Person, src.Person)
	pick(&dst.Team, src.Team)
	pick(&dst.ConversationID, src.ConversationID)
	pick(&dst.SourceIP, src.SourceIP)
	pick(&dst.LambdaRequestID, src.LambdaRequestID)
	pick(&dst.APIGatewayRequestID, src.APIGatewayRequestID)
}

func pick(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

func fromHeaders(src Source) model.Identity {
	h := src.Headers
	return model.Identity{
		Username:       h[HeaderUserName],
		ARN:            h[HeaderUserARN],
		Group:          h[HeaderUserGroup],
		Person:         h[HeaderUserPerson],
		Team:           h[HeaderUserTeam],
		ConversationID: h[HeaderConversationID],
	}
}

func fromAuthorizer(src Source) model.Identity {
	var id model.Identity
	if principal, ok := src.Context.Authorizer["principalId"].(string); ok {
		id.Username = principal
	}
	return id
}

func fromCallerIdentity(src Source) model.Identity {
	arn := src.Context.Identity.UserArn
	return model.Identity{
		Username: UsernameFromARN(arn),
		ARN:      arn,
		SourceIP: src.Context.Identity.SourceIP,
	}
}

func fromRequestIDs(src Source) model.Identity {
	return model.Identity{APIGatewayRequestID: src.Context.RequestID}
}

// UsernameFromARN returns the name after "/user/" in an IAM user ARN.
func UsernameFromARN(arn string) string {
	idx := strings.LastIndex(arn, "/user/")
	if idx < 0 {
		return ""
	}
	return arn[idx+len("/user/"):]
}
