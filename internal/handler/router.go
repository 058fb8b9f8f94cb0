package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/identity"
	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/pkg/response"
	"github.com/xxxsen/kbchat/internal/service"
)

type Answerer interface {
	Answer(ctx context.Context, kbID, prompt, modelID string, retrievalOnly bool) (*model.NormalizedResult, error)
}

type Auditor interface {
	Begin(ctx context.Context, id model.Identity, query, modelID, kbID string, retrievalOnly bool) (string, error)
	Complete(ctx context.Context, queryID string, result *model.NormalizedResult, timings service.Timings)
	Fail(ctx context.Context, queryID, message string)
	LogRetrieved(ctx context.Context, queryID string, citations []model.Citation)
}

type RouterDeps struct {
	RAG       Answerer
	Registry  *ai.Registry
	Audit     Auditor
	Documents DocumentManagerFactory
	// Session is closed after every Lambda invocation.
	Session                io.Closer
	DefaultKnowledgeBaseID string
	DefaultModel           string
	Logger                 *zap.Logger
}

// Router dispatches API Gateway proxy events to chat or document operations.
type Router struct {
	deps   RouterDeps
	logger *zap.Logger
	now    func() time.Time
}

func NewRouter(deps RouterDeps) *Router {
	return &Router{
		deps:   deps,
		logger: deps.Logger.With(zap.String("component", "router")),
		now:    time.Now,
	}
}

// HandleLambda is the lambda.Start entry point. The audit connection opened
// during the invocation is released before returning.
func (r *Router) HandleLambda(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if r.deps.Session != nil {
		defer func() {
			if err := r.deps.Session.Close(); err != nil {
				r.logger.Warn("close audit session failed", zap.Error(err))
			}
		}()
	}
	return r.Handle(ctx, req), nil
}

func (r *Router) Handle(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	method := strings.ToUpper(req.HTTPMethod)
	if method == "" {
		method = http.MethodPost
	}
	path := req.Path
	if path == "" {
		path = "/"
	}
	r.logger.Info("request received", zap.String("method", method), zap.String("path", path))
	if method == http.MethodOptions {
		return response.JSON(http.StatusOK, map[string]interface{}{
			"message": "CORS preflight successful",
			"path":    path,
			"method":  method,
		})
	}
	if path == "/documents" || strings.HasPrefix(path, "/documents/") {
		return r.handleDocuments(ctx, method, path, req)
	}
	return r.handleChat(ctx, req)
}

func (r *Router) requestIdentity(ctx context.Context, req events.APIGatewayProxyRequest) model.Identity {
	id := identity.Extract(identity.NewSource(req.Headers, req.RequestContext))
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		id.LambdaRequestID = lc.AwsRequestID
	}
	return id
}

func errorResponse(err error) events.APIGatewayProxyResponse {
	var detail *appErr.DetailError
	msg := err.Error()
	if errors.As(err, &detail) {
		msg = detail.Error()
	}
	switch {
	case appErr.IsInvalid(err):
		return response.Error(http.StatusBadRequest, msg, appErr.Extra(err))
	case appErr.IsNotFound(err):
		return response.Error(http.StatusNotFound, msg, appErr.Extra(err))
	case errors.Is(err, appErr.ErrMethodNotAllowed):
		return response.Error(http.StatusMethodNotAllowed, msg, appErr.Extra(err))
	default:
		return response.Error(http.StatusInternalServerError, msg, appErr.Extra(err))
	}
}

func pathParts(path string) []string {
	raw := strings.Split(path, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}
		parts = append(parts, p)
	}
	return parts
}

func roundMillis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}

func decodeBody(body string, dst interface{}) error {
	if strings.TrimSpace(body) == "" {
		body = "{}"
	}
	if err := json.Unmarshal([]byte(body), dst); err != nil {
		return appErr.Invalid(fmt.Sprintf("invalid JSON body: %v", err), nil)
	}
	return nil
}
