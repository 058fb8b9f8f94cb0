package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/metrics"
	"github.com/xxxsen/kbchat/internal/model"
)

const (
	tokensPerWord    = 1.3
	abandonedMessage = "abandoned"
)

type queryLogStore interface {
	Create(ctx context.Context, entry *model.QueryLog) error
	UpdateCompleted(ctx context.Context, queryID string, c *model.QueryCompletion, responseWords, responseChars int, responseTime int64) (bool, error)
	UpdateError(ctx context.Context, queryID, message string, responseTime int64) (bool, error)
	MarkStale(ctx context.Context, cutoff int64, message string, responseTime int64) (int64, error)
}

type retrievedDocumentStore interface {
	BatchInsert(ctx context.Context, docs []model.RetrievedDocument) error
}

// Timings are the measured stages of one query. Stage splits are nil when
// the backend does not report them.
type Timings struct {
	TotalMs    int64
	VectorDBMs *int64
	LLMMs      *int64
}

// AuditService records one query log row per chat request. Only Begin
// reports failures; the later writes are best effort.
type AuditService struct {
	logs   queryLogStore
	docs   retrievedDocumentStore
	logger *zap.Logger
	now    func() time.Time
}

func NewAuditService(logs queryLogStore, docs retrievedDocumentStore, logger *zap.Logger) *AuditService {
	return &AuditService{
		logs:   logs,
		docs:   docs,
		logger: logger.With(zap.String("component", "audit")),
		now:    time.Now,
	}
}

func (s *AuditService) Begin(ctx context.Context, id model.Identity, query, modelID, kbID string, retrievalOnly bool) (string, error) {
	username := id.Username
	if id.Person != "" {
		username = id.Person
	}
	group := id.Group
	if id.Team != "" {
		group = id.Team
	}
	entry := &model.QueryLog{
		QueryID:             newQueryID(),
		ConversationID:      id.ConversationID,
		Username:            username,
		UserARN:             id.ARN,
		Group:               group,
		Person:              id.Person,
		Team:                id.Team,
		Query:               query,
		QueryWordCount:      wordCount(query),
		QueryCharCount:      utf8.RuneCountInString(query),
		ModelID:             modelID,
		KnowledgeBaseID:     kbID,
		Status:              model.QueryStatusPending,
		LambdaRequestID:     id.LambdaRequestID,
		APIGatewayRequestID: id.APIGatewayRequestID,
		SourceIP:            id.SourceIP,
		RetrievalOnly:       retrievalOnly,
		RequestTime:         s.now().UnixMilli(),
	}
	err := s.logs.Create(ctx, entry)
	metrics.AuditWrites.WithLabelValues("begin", metrics.Status(err)).Inc()
	if err != nil {
		s.logger.Error("create query log failed", zap.String("username", username), zap.Error(err))
		return "", fmt.Errorf("create query log: %w", err)
	}
	s.logger.Debug("query log created", zap.String("query_id", entry.QueryID), zap.String("username", username))
	return entry.QueryID, nil
}

func (s *AuditService) Complete(ctx context.Context, queryID string, result *model.NormalizedResult, timings Timings) {
	logger := s.logger.With(zap.String("query_id", queryID))
	words := wordCount(result.Text)
	tokens := int(float64(words) * tokensPerWord)
	completion := &model.QueryCompletion{
		Response:                result.Text,
		ProcessingTimeMs:        timings.TotalMs,
		TokensUsed:              &tokens,
		RetrievedDocumentsCount: len(result.Citations),
		VectorDBTimeMs:          timings.VectorDBMs,
		LLMTimeMs:               timings.LLMMs,
	}
	updated, err := s.logs.UpdateCompleted(ctx, queryID, completion, words, utf8.RuneCountInString(result.Text), s.now().UnixMilli())
	metrics.AuditWrites.WithLabelValues("complete", metrics.Status(err)).Inc()
	if err != nil {
		logger.Error("complete query log failed", zap.Error(err))
		return
	}
	if !updated {
		logger.Warn("query log is no longer pending, completion dropped")
	}
}

func (s *AuditService) Fail(ctx context.Context, queryID, message string) {
	logger := s.logger.With(zap.String("query_id", queryID))
	updated, err := s.logs.UpdateError(ctx, queryID, message, s.now().UnixMilli())
	metrics.AuditWrites.WithLabelValues("fail", metrics.Status(err)).Inc()
	if err != nil {
		logger.Error("mark query log failed", zap.Error(err))
		return
	}
	if !updated {
		logger.Warn("query log is no longer pending, error dropped", zap.String("message", message))
	}
}

// LogRetrieved stores the citations in rank order, rank 1 first.
func (s *AuditService) LogRetrieved(ctx context.Context, queryID string, citations []model.Citation) {
	if len(citations) == 0 {
		return
	}
	at := s.now().UnixMilli()
	docs := make([]model.RetrievedDocument, 0, len(citations))
	for i, c := range citations {
		doc := model.RetrievedDocument{
			QueryID:      queryID,
			ChunkText:    c.Content,
			RankPosition: i + 1,
			RetrievedAt:  at,
		}
		if c.SourceLocation != nil {
			doc.DocumentReference = *c.SourceLocation
		}
		if c.RelevanceScore != nil {
			doc.SimilarityScore = *c.RelevanceScore
		}
		docs = append(docs, doc)
	}
	err := s.docs.BatchInsert(ctx, docs)
	metrics.AuditWrites.WithLabelValues("retrieved", metrics.Status(err)).Inc()
	if err != nil {
		s.logger.Error("store retrieved documents failed",
			zap.String("query_id", queryID),
			zap.Int("count", len(docs)),
			zap.Error(err))
	}
}

// ReapStale closes pending rows whose request started before now-olderThan.
func (s *AuditService) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	cutoff := now.Add(-olderThan).UnixMilli()
	n, err := s.logs.MarkStale(ctx, cutoff, abandonedMessage, now.UnixMilli())
	metrics.AuditWrites.WithLabelValues("reap", metrics.Status(err)).Inc()
	if err != nil {
		return 0, fmt.Errorf("mark stale query logs: %w", err)
	}
	if n > 0 {
		s.logger.Info("stale query logs closed", zap.Int64("count", n), zap.Int64("cutoff", cutoff))
	}
	return n, nil
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
