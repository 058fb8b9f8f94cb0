package bedrock

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
)

// The reply types mirror the service's REST field names so SDK outputs and
// raw JSON bodies share one document shape.

type replyText struct {
	Text string `json:"text"`
}

type replyS3Location struct {
	URI string `json:"uri"`
}

type replyLocation struct {
	Type       string           `json:"type,omitempty"`
	S3Location *replyS3Location `json:"s3Location,omitempty"`
}

type replyReference struct {
	Content  *replyText     `json:"content,omitempty"`
	Location *replyLocation `json:"location,omitempty"`
	Score    *float64       `json:"score,omitempty"`
}

type replyCitation struct {
	RetrievedReferences []replyReference `json:"retrievedReferences"`
}

type ragReply struct {
	Output    *replyText      `json:"output,omitempty"`
	Citations []replyCitation `json:"citations"`
	SessionID string          `json:"sessionId,omitempty"`
}

type retrieveReply struct {
	RetrievalResults []replyReference `json:"retrievalResults"`
}

func adaptRetrieveAndGenerate(out *bedrockagentruntime.RetrieveAndGenerateOutput) ragReply {
	reply := ragReply{Citations: []replyCitation{}}
	if out == nil {
		return reply
	}
	reply.SessionID = aws.ToString(out.SessionId)
	if out.Output != nil && out.Output.Text != nil {
		reply.Output = &replyText{Text: aws.ToString(out.Output.Text)}
	}
	for _, c := range out.Citations {
		citation := replyCitation{RetrievedReferences: make([]replyReference, 0, len(c.RetrievedReferences))}
		for _, ref := range c.RetrievedReferences {
			citation.RetrievedReferences = append(citation.RetrievedReferences, replyReference{
				Content:  adaptContent(ref.Content),
				Location: adaptLocation(ref.Location),
			})
		}
		reply.Citations = append(reply.Citations, citation)
	}
	return reply
}

func adaptRetrieve(out *bedrockagentruntime.RetrieveOutput) retrieveReply {
	reply := retrieveReply{RetrievalResults: []replyReference{}}
	if out == nil {
		return reply
	}
	for _, r := range out.RetrievalResults {
		reply.RetrievalResults = append(reply.RetrievalResults, replyReference{
			Content:  adaptContent(r.Content),
			Location: adaptLocation(r.Location),
			Score:    r.Score,
		})
	}
	return reply
}

func adaptContent(c *agenttypes.RetrievalResultContent) *replyText {
	if c == nil || c.Text == nil {
		return nil
	}
	return &replyText{Text: aws.ToString(c.Text)}
}

func adaptLocation(l *agenttypes.RetrievalResultLocation) *replyLocation {
	if l == nil {
		return nil
	}
	loc := &replyLocation{Type: string(l.Type)}
	if l.S3Location != nil && l.S3Location.Uri != nil {
		loc.S3Location = &replyS3Location{URI: aws.ToString(l.S3Location.Uri)}
	}
	return loc
}
