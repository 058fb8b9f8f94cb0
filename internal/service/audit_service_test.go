package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/repo"
	"github.com/xxxsen/kbchat/internal/testutil"
)

func newTestAudit(t *testing.T) (*AuditService, *repo.QueryLogRepo, *repo.RetrievedDocumentRepo, *observer.ObservedLogs) {
	conn, cleanup := testutil.OpenTestDB(t)
	t.Cleanup(cleanup)
	logs := repo.NewQueryLogRepo(conn)
	docs := repo.NewRetrievedDocumentRepo(conn)
	core, observed := observer.New(zapcore.InfoLevel)
	svc := NewAuditService(logs, docs, zap.New(core))
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, logs, docs, observed
}

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func TestAuditLifecycle(t *testing.T) {
	svc, logs, docs, _ := newTestAudit(t)
	ctx := context.Background()

	id := model.Identity{
		Username:       "alice",
		Group:          "support",
		Person:         "Alice Doe",
		Team:           "emea",
		ConversationID: "conv-1",
		SourceIP:       "10.0.0.1",
	}
	queryID, err := svc.Begin(ctx, id, "What is the refund  policy?", "model-x", "KB1", false)
	require.NoError(t, err)
	require.NotEmpty(t, queryID)

	got, err := logs.Get(ctx, queryID)
	require.NoError(t, err)
	require.Equal(t, model.QueryStatusPending, got.Status)
	require.Equal(t, "Alice Doe", got.Username)
	require.Equal(t, "emea", got.Group)
	require.Equal(t, 5, got.QueryWordCount)
	require.Equal(t, 27, got.QueryCharCount)

	result := &model.NormalizedResult{
		Text: "Refunds are accepted within thirty days",
		Citations: []model.Citation{
			{Content: "policy text", SourceLocation: strPtr("s3://b/policy.pdf"), RelevanceScore: floatPtr(0.7)},
			{Content: "partial"},
		},
	}
	svc.Complete(ctx, queryID, result, Timings{TotalMs: 350})
	svc.LogRetrieved(ctx, queryID, result.Citations)

	got, err = logs.Get(ctx, queryID)
	require.NoError(t, err)
	require.Equal(t, model.QueryStatusCompleted, got.Status)
	require.Equal(t, 6, got.ResponseWordCount)
	require.NotNil(t, got.TokensUsed)
	require.Equal(t, 7, *got.TokensUsed)
	require.Equal(t, 2, got.RetrievedDocumentsCount)
	require.Equal(t, int64(350), got.ProcessingTimeMs)

	stored, err := docs.ListByQuery(ctx, queryID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, 1, stored[0].RankPosition)
	require.Equal(t, "s3://b/policy.pdf", stored[0].DocumentReference)
	require.Equal(t, 2, stored[1].RankPosition)
	require.Equal(t, "", stored[1].DocumentReference)
	require.Equal(t, float64(0), stored[1].SimilarityScore)
}

func TestAuditSingleTransition(t *testing.T) {
	svc, logs, _, observed := newTestAudit(t)
	ctx := context.Background()
	queryID, err := svc.Begin(ctx, model.Identity{Username: "bob"}, "q", "m", "KB1", true)
	require.NoError(t, err)

	svc.Fail(ctx, queryID, "backend exploded")
	svc.Complete(ctx, queryID, &model.NormalizedResult{Text: "late"}, Timings{})

	got, err := logs.Get(ctx, queryID)
	require.NoError(t, err)
	require.Equal(t, model.QueryStatusError, got.Status)
	require.Equal(t, "backend exploded", got.ErrorMessage)
	require.True(t, got.RetrievalOnly)
	require.Equal(t, 1, observed.FilterMessage("query log is no longer pending, completion dropped").Len())
}

func TestAuditReapStale(t *testing.T) {
	svc, logs, _, _ := newTestAudit(t)
	ctx := context.Background()
	base := svc.now()

	svc.now = func() time.Time { return base.Add(-time.Hour) }
	old, err := svc.Begin(ctx, model.Identity{}, "old", "m", "KB1", false)
	require.NoError(t, err)
	svc.now = func() time.Time { return base.Add(-time.Minute) }
	fresh, err := svc.Begin(ctx, model.Identity{}, "fresh", "m", "KB1", false)
	require.NoError(t, err)

	svc.now = func() time.Time { return base }
	n, err := svc.ReapStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := logs.Get(ctx, old)
	require.NoError(t, err)
	require.Equal(t, model.QueryStatusError, got.Status)
	require.Equal(t, "abandoned", got.ErrorMessage)
	got, err = logs.Get(ctx, fresh)
	require.NoError(t, err)
	require.Equal(t, model.QueryStatusPending, got.Status)
}

type failingLogStore struct {
	queryLogStore
	err error
}

func (f *failingLogStore) Create(ctx context.Context, entry *model.QueryLog) error {
	return f.err
}

func (f *failingLogStore) UpdateError(ctx context.Context, queryID, message string, responseTime int64) (bool, error) {
	return false, f.err
}

func TestAuditBeginFailureIsReturned(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	store := &failingLogStore{err: errors.New("connection refused")}
	svc := NewAuditService(store, nil, zap.New(core))

	_, err := svc.Begin(context.Background(), model.Identity{Username: "alice"}, "q", "m", "KB1", false)
	require.ErrorIs(t, err, store.err)

	svc.Fail(context.Background(), "q-1", "boom")
	require.Equal(t, 1, observed.FilterMessage("mark query log failed").Len())
}
