package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/metrics"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/awsutil"
)

// GenerateRequest asks a model for a JSON list of items grounded on chunks.
type GenerateRequest struct {
	Requirement string               `json:"requirement"`
	Chunks      []model.ContextChunk `json:"context_chunks"`
	MaxItems    int                  `json:"max_items"`
	Directives  string               `json:"directives"`
	ModelID     string               `json:"model_id"`
	MaxTokens   int                  `json:"max_tokens"`
}

type RAGService struct {
	backend    ai.IBackend
	registry   *ai.Registry
	normalizer *ai.Normalizer
	logger     *zap.Logger
	now        func() time.Time
}

func NewRAGService(backend ai.IBackend, registry *ai.Registry, logger *zap.Logger) *RAGService {
	normalizer := ai.NewNormalizer(logger)
	normalizer.OnMiss = func(field string) {
		metrics.NormalizationMisses.WithLabelValues(field).Inc()
	}
	return &RAGService{
		backend:    backend,
		registry:   registry,
		normalizer: normalizer,
		logger:     logger.With(zap.String("component", "rag")),
		now:        time.Now,
	}
}

func (s *RAGService) Registry() *ai.Registry {
	return s.registry
}

// Answer queries the knowledge base. With retrievalOnly set the backend only
// retrieves chunks and the answer text stays the sentinel.
func (s *RAGService) Answer(ctx context.Context, kbID, prompt, modelID string, retrievalOnly bool) (*model.NormalizedResult, error) {
	desc := s.registry.Resolve(modelID)
	mode, modeName := ai.ModeGenerate, "generate"
	if retrievalOnly {
		mode, modeName = ai.ModeRetrievalOnly, "retrieve"
	}
	logger := s.logger.With(
		zap.String("knowledge_base_id", kbID),
		zap.String("model_id", desc.LogicalID),
		zap.String("mode", modeName),
	)
	start := s.now()
	var (
		raw []byte
		err error
	)
	if retrievalOnly {
		raw, err = s.backend.Retrieve(ctx, &ai.RetrieveInput{
			KnowledgeBaseID: kbID,
			Query:           prompt,
			NumberOfResults: ai.DefaultNumberOfResults,
			SearchType:      ai.SearchTypeHybrid,
		})
	} else {
		raw, err = s.backend.RetrieveAndGenerate(ctx, &ai.RetrieveAndGenerateInput{
			KnowledgeBaseID: kbID,
			Prompt:          prompt,
			ModelARN:        s.registry.ModelARN(desc),
			NumberOfResults: ai.DefaultNumberOfResults,
			SearchType:      ai.SearchTypeHybrid,
		})
	}
	elapsed := s.now().Sub(start)
	metrics.QueryDuration.WithLabelValues(modeName).Observe(elapsed.Seconds())
	metrics.QueryTotal.WithLabelValues(desc.LogicalID, metrics.Status(err)).Inc()
	if err != nil {
		logger.Error("knowledge base query failed",
			zap.String("error_code", awsutil.ErrorCode(err)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, fmt.Errorf("query knowledge base %s: %w", kbID, err)
	}
	result := s.normalizer.Normalize(raw, desc, mode)
	result.ProcessingTimeMs = roundMillis(elapsed)
	metrics.CitationsCount.Observe(float64(len(result.Citations)))
	logger.Info("knowledge base query finished",
		zap.Int("citations", len(result.Citations)),
		zap.Float64("processing_time_ms", result.ProcessingTimeMs))
	return &result, nil
}

func (s *RAGService) AnswerSingleTurn(ctx context.Context, req GenerateRequest) (*model.GenerationResult, error) {
	desc := s.registry.Resolve(req.ModelID)
	logger := s.logger.With(zap.String("model_id", desc.LogicalID), zap.String("target", desc.Target.Kind.String()))
	prompt := ai.BuildGenerationPrompt(req.Requirement, req.Chunks, req.MaxItems, req.Directives)
	body, err := ai.EncodeRequest(ai.BuildRequest(logger, desc, prompt, ai.RequestOptions{MaxTokens: req.MaxTokens}))
	if err != nil {
		return nil, fmt.Errorf("encode generation request: %w", err)
	}
	start := s.now()
	raw, err := s.backend.InvokeModel(ctx, desc.Target.Value, body)
	elapsed := s.now().Sub(start)
	metrics.QueryDuration.WithLabelValues("single_turn").Observe(elapsed.Seconds())
	metrics.QueryTotal.WithLabelValues(desc.LogicalID, metrics.Status(err)).Inc()
	if err != nil {
		logger.Error("model invocation failed",
			zap.String("error_code", awsutil.ErrorCode(err)),
			zap.Error(err))
		return nil, fmt.Errorf("invoke model %s: %w", desc.Target.Value, err)
	}
	result := &model.GenerationResult{
		Items:            []model.GeneratedItem{},
		ProcessingTimeMs: roundMillis(elapsed),
		ModelUsed:        desc.LogicalID,
	}
	text, ok := s.normalizer.ExtractText(raw)
	if !ok {
		return result, nil
	}
	items, ok := ai.ParseItems(text)
	if !ok {
		logger.Warn("model reply carries no items list", zap.Int("text_len", len(text)))
	}
	result.Items = items
	return result, nil
}

func roundMillis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
