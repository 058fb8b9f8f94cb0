package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/pkg/response"
	"github.com/xxxsen/kbchat/internal/service"
)

type chatRequest struct {
	Query           string `json:"query"`
	ModelID         string `json:"model_id"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	RetrievalOnly   bool   `json:"retrieval_only"`
}

type chatResponse struct {
	model.NormalizedResult
	Query                 string  `json:"query"`
	ModelUsed             string  `json:"model_used"`
	KnowledgeBaseID       string  `json:"knowledge_base_id"`
	TotalProcessingTimeMs float64 `json:"total_processing_time_ms"`
	QueryID               string  `json:"query_id"`
}

func (r *Router) validateChat(req *chatRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return appErr.Invalid("query is required", nil)
	}
	if req.ModelID == "" {
		req.ModelID = r.deps.DefaultModel
	}
	if !r.deps.Registry.IsAllowed(req.ModelID) {
		allowed := r.deps.Registry.AllowedModels()
		return appErr.Invalid(
			fmt.Sprintf("invalid model. Allowed models: %s", strings.Join(allowed, ", ")),
			map[string]interface{}{"allowed_models": allowed},
		)
	}
	if req.KnowledgeBaseID == "" {
		req.KnowledgeBaseID = r.deps.DefaultKnowledgeBaseID
	}
	if req.KnowledgeBaseID == "" {
		return appErr.Invalid("knowledge_base_id is required", nil)
	}
	return nil
}

func (r *Router) handleChat(ctx context.Context, evt events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	start := r.now()
	req := &chatRequest{}
	if err := decodeBody(evt.Body, req); err != nil {
		return errorResponse(err)
	}
	if err := r.validateChat(req); err != nil {
		return errorResponse(err)
	}
	id := r.requestIdentity(ctx, evt)
	logger := r.logger.With(
		zap.String("username", id.Username),
		zap.String("model_id", req.ModelID),
		zap.String("knowledge_base_id", req.KnowledgeBaseID),
		zap.Bool("retrieval_only", req.RetrievalOnly),
	)

	queryID, err := r.deps.Audit.Begin(ctx, id, req.Query, req.ModelID, req.KnowledgeBaseID, req.RetrievalOnly)
	if err != nil {
		logger.Error("audit begin failed", zap.Error(err))
		return errorResponse(err)
	}
	logger = logger.With(zap.String("query_id", queryID))

	result, err := r.deps.RAG.Answer(ctx, req.KnowledgeBaseID, req.Query, req.ModelID, req.RetrievalOnly)
	if err != nil {
		r.deps.Audit.Fail(ctx, queryID, err.Error())
		logger.Error("chat request failed", zap.Error(err))
		return response.Error(http.StatusInternalServerError, err.Error(), map[string]interface{}{"query_id": queryID})
	}
	elapsed := r.now().Sub(start)
	r.deps.Audit.Complete(ctx, queryID, result, service.Timings{TotalMs: elapsed.Milliseconds()})
	r.deps.Audit.LogRetrieved(ctx, queryID, result.Citations)

	logger.Info("chat request finished", zap.Int("citations", len(result.Citations)), zap.Duration("elapsed", elapsed))
	return response.JSON(http.StatusOK, &chatResponse{
		NormalizedResult:      *result,
		Query:                 req.Query,
		ModelUsed:             req.ModelID,
		KnowledgeBaseID:       req.KnowledgeBaseID,
		TotalProcessingTimeMs: roundMillis(elapsed),
		QueryID:               queryID,
	})
}
