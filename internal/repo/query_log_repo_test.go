package repo

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/testutil"
)

func newPending(requestTime int64) *model.QueryLog {
	return &model.QueryLog{
		QueryID:         uuid.NewString(),
		ConversationID:  "conv-1",
		Username:        "alice",
		Group:           "support",
		Query:           "What is the refund policy?",
		QueryWordCount:  5,
		QueryCharCount:  26,
		ModelID:         "anthropic.claude-sonnet-4-20250514-v1:0",
		KnowledgeBaseID: "KB1",
		Status:          model.QueryStatusPending,
		SourceIP:        "10.0.0.1",
		RequestTime:     requestTime,
	}
}

func TestQueryLogLifecycle(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	r := NewQueryLogRepo(conn)
	ctx := context.Background()

	entry := newPending(1000)
	require.NoError(t, r.Create(ctx, entry))
	require.ErrorIs(t, r.Create(ctx, entry), appErr.ErrConflict)

	got, err := r.Get(ctx, entry.QueryID)
	require.NoError(t, err)
	require.Equal(t, model.QueryStatusPending, got.Status)
	require.Equal(t, "alice", got.Username)
	require.Equal(t, "conv-1", got.ConversationID)
	require.Nil(t, got.TokensUsed)
	require.False(t, got.RetrievalOnly)

	tokens := 7
	vector := int64(12)
	ok, err := r.UpdateCompleted(ctx, entry.QueryID, &model.QueryCompletion{
		Response:                "Refunds within 30 days.",
		ProcessingTimeMs:        420,
		TokensUsed:              &tokens,
		RetrievedDocumentsCount: 1,
		VectorDBTimeMs:          &vector,
	}, 4, 23, 2000)
	require.NoError(t, err)
	require.True(t, ok)

	got, err = r.Get(ctx, entry.QueryID)
	require.NoError(t, err)
	require.Equal(t, model.QueryStatusCompleted, got.Status)
	require.Equal(t, "Refunds within 30 days.", got.Response)
	require.Equal(t, 4, got.ResponseWordCount)
	require.Equal(t, 23, got.ResponseCharCount)
	require.Equal(t, int64(420), got.ProcessingTimeMs)
	require.NotNil(t, got.TokensUsed)
	require.Equal(t, 7, *got.TokensUsed)
	require.NotNil(t, got.VectorDBTimeMs)
	require.Nil(t, got.LLMTimeMs)
	require.Equal(t, int64(2000), got.ResponseTime)

	// A finalized entry never transitions again.
	ok, err = r.UpdateError(ctx, entry.QueryID, "late failure", 3000)
	require.NoError(t, err)
	require.False(t, ok)
	got, err = r.Get(ctx, entry.QueryID)
	require.NoError(t, err)
	require.Equal(t, model.QueryStatusCompleted, got.Status)
	require.Empty(t, got.ErrorMessage)
}

func TestQueryLogUpdateError(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	r := NewQueryLogRepo(conn)
	ctx := context.Background()

	entry := newPending(1000)
	entry.RetrievalOnly = true
	require.NoError(t, r.Create(ctx, entry))

	ok, err := r.UpdateError(ctx, entry.QueryID, "throttled", 1500)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.UpdateCompleted(ctx, entry.QueryID, &model.QueryCompletion{Response: "x"}, 1, 1, 1600)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := r.Get(ctx, entry.QueryID)
	require.NoError(t, err)
	require.Equal(t, model.QueryStatusError, got.Status)
	require.Equal(t, "throttled", got.ErrorMessage)
	require.True(t, got.RetrievalOnly)
	require.Empty(t, got.Response)
}

func TestQueryLogMarkStale(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	r := NewQueryLogRepo(conn)
	ctx := context.Background()

	stale := newPending(1000)
	fresh := newPending(9000)
	done := newPending(1000)
	require.NoError(t, r.Create(ctx, stale))
	require.NoError(t, r.Create(ctx, fresh))
	require.NoError(t, r.Create(ctx, done))
	_, err := r.UpdateCompleted(ctx, done.QueryID, &model.QueryCompletion{Response: "ok"}, 1, 2, 1100)
	require.NoError(t, err)

	n, err := r.MarkStale(ctx, 5000, "abandoned", 10000)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := r.Get(ctx, stale.QueryID)
	require.NoError(t, err)
	require.Equal(t, model.QueryStatusError, got.Status)
	require.Equal(t, "abandoned", got.ErrorMessage)

	got, err = r.Get(ctx, fresh.QueryID)
	require.NoError(t, err)
	require.Equal(t, model.QueryStatusPending, got.Status)

	got, err = r.Get(ctx, done.QueryID)
	require.NoError(t, err)
	require.Equal(t, model.QueryStatusCompleted, got.Status)
}

func TestQueryLogGetMissing(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	_, err := NewQueryLogRepo(conn).Get(context.Background(), "missing")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestRetrievedDocumentBatchInsert(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	logs := NewQueryLogRepo(conn)
	docs := NewRetrievedDocumentRepo(conn)

	entry := newPending(1000)
	require.NoError(t, logs.Create(ctx, entry))
	require.NoError(t, docs.BatchInsert(ctx, nil))

	require.NoError(t, docs.BatchInsert(ctx, []model.RetrievedDocument{
		{QueryID: entry.QueryID, DocumentReference: "s3://b/a.pdf", ChunkText: "chunk A", SimilarityScore: 0.5, RankPosition: 1, RetrievedAt: 1200},
		{QueryID: entry.QueryID, DocumentReference: "s3://b/b.pdf", ChunkText: "chunk B", SimilarityScore: 0.9, RankPosition: 2, RetrievedAt: 1200},
	}))

	got, err := docs.ListByQuery(ctx, entry.QueryID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "chunk A", got[0].ChunkText)
	require.Equal(t, 1, got[0].RankPosition)
	require.Equal(t, "chunk B", got[1].ChunkText)
	require.InDelta(t, 0.9, got[1].SimilarityScore, 1e-9)

	longRef := "s3://kb-docs/" + strings.Repeat("nested/", 100) + "report.pdf"
	second := newPending(1100)
	require.NoError(t, logs.Create(ctx, second))
	require.NoError(t, docs.BatchInsert(ctx, []model.RetrievedDocument{
		{QueryID: second.QueryID, DocumentReference: longRef, ChunkText: "deep", RankPosition: 1, RetrievedAt: 1200},
	}))
	got, err = docs.ListByQuery(ctx, second.QueryID)
	require.NoError(t, err)
	require.Equal(t, longRef, got[0].DocumentReference)

	require.Error(t, docs.BatchInsert(ctx, []model.RetrievedDocument{
		{QueryID: "no-such-query", RankPosition: 1, RetrievedAt: 1},
	}))
}
