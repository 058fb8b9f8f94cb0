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

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/model"
)

type fakeBackend struct {
	reply    []byte
	err      error
	ragIn    *ai.RetrieveAndGenerateInput
	retIn    *ai.RetrieveInput
	invokeID string
	body     []byte
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) InvokeModel(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	f.invokeID = modelID
	f.body = body
	return f.reply, f.err
}

func (f *fakeBackend) RetrieveAndGenerate(ctx context.Context, in *ai.RetrieveAndGenerateInput) ([]byte, error) {
	f.ragIn = in
	return f.reply, f.err
}

func (f *fakeBackend) Retrieve(ctx context.Context, in *ai.RetrieveInput) ([]byte, error) {
	f.retIn = in
	return f.reply, f.err
}

func newTestRAG(backend ai.IBackend, accountID string) (*RAGService, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	registry := ai.NewRegistry("eu-west-1", ai.DefaultModels("eu-west-1", accountID))
	svc := NewRAGService(backend, registry, zap.New(core))
	tick := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		tick = tick.Add(1500 * time.Microsecond)
		return tick
	}
	return svc, logs
}

func TestAnswerGenerate(t *testing.T) {
	backend := &fakeBackend{reply: []byte(`{
		"output": {"text": "Paris"},
		"citations": [{"retrievedReferences": [
			{"content": {"text": "Paris is the capital"}, "location": {"s3Location": {"uri": "s3://b/geo.pdf"}}, "score": 0.9}
		]}]
	}`)}
	svc, _ := newTestRAG(backend, "")
	res, err := svc.Answer(context.Background(), "KB1", "capital of France?", ai.ModelClaudeSonnet4, false)
	require.NoError(t, err)
	require.Equal(t, "Paris", res.Text)
	require.Len(t, res.Citations, 1)
	require.Equal(t, "s3://b/geo.pdf", *res.Citations[0].SourceLocation)
	require.Equal(t, 1.5, res.ProcessingTimeMs)

	require.NotNil(t, backend.ragIn)
	require.Equal(t, "KB1", backend.ragIn.KnowledgeBaseID)
	require.Equal(t, "arn:aws:bedrock:eu-west-1::foundation-model/"+ai.ModelClaudeSonnet4, backend.ragIn.ModelARN)
	require.Equal(t, ai.DefaultNumberOfResults, backend.ragIn.NumberOfResults)
	require.Equal(t, ai.SearchTypeHybrid, backend.ragIn.SearchType)
	require.Nil(t, backend.retIn)
}

func TestAnswerUsesProfileARN(t *testing.T) {
	backend := &fakeBackend{reply: []byte(`{"output":{"text":"ok"}}`)}
	svc, _ := newTestRAG(backend, "123456789012")
	_, err := svc.Answer(context.Background(), "KB1", "q", ai.ModelNovaPro, false)
	require.NoError(t, err)
	require.Equal(t, "arn:aws:bedrock:eu-west-1:123456789012:inference-profile/eu."+ai.ModelNovaPro, backend.ragIn.ModelARN)
}

func TestAnswerRetrievalOnly(t *testing.T) {
	backend := &fakeBackend{reply: []byte(`{"retrievalResults": [
		{"content": {"text": "chunk one"}, "score": 0.8},
		{"content": {"text": "chunk two"}, "location": {"s3Location": {"uri": "s3://b/two.pdf"}}}
	]}`)}
	svc, _ := newTestRAG(backend, "")
	res, err := svc.Answer(context.Background(), "KB1", "q", ai.ModelClaudeSonnet4, true)
	require.NoError(t, err)
	require.Equal(t, ai.NoAnswerText, res.Text)
	require.Len(t, res.Citations, 2)
	require.Equal(t, "chunk one", res.Citations[0].Content)
	require.Nil(t, res.Citations[1].RelevanceScore)
	require.Nil(t, backend.ragIn)
	require.Equal(t, "q", backend.retIn.Query)
}

func TestAnswerBackendError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("throttled")}
	svc, logs := newTestRAG(backend, "")
	_, err := svc.Answer(context.Background(), "KB1", "q", ai.ModelClaudeSonnet4, false)
	require.Error(t, err)
	require.ErrorIs(t, err, backend.err)
	require.Equal(t, 1, logs.FilterMessage("knowledge base query failed").Len())
}

func TestAnswerMalformedReplyIsNotAnError(t *testing.T) {
	backend := &fakeBackend{reply: []byte(`not json`)}
	svc, logs := newTestRAG(backend, "")
	res, err := svc.Answer(context.Background(), "KB1", "q", ai.ModelClaudeSonnet4, false)
	require.NoError(t, err)
	require.Equal(t, ai.NoAnswerText, res.Text)
	require.Empty(t, res.Citations)
	require.GreaterOrEqual(t, logs.FilterLevelExact(zapcore.WarnLevel).Len(), 1)
}

func TestAnswerSingleTurn(t *testing.T) {
	backend := &fakeBackend{reply: []byte(`{"content":[{"type":"text","text":"Here you go:\n` + "```json" + `\n{\"items\":[{\"title\":\"a\"},{\"title\":\"b\"}]}\n` + "```" + `"}]}`)}
	svc, _ := newTestRAG(backend, "")
	res, err := svc.AnswerSingleTurn(context.Background(), GenerateRequest{
		Requirement: "two titles",
		Chunks:      []model.ContextChunk{{DocumentID: "d1", TextChunk: "text"}},
		MaxItems:    2,
		ModelID:     ai.ModelClaudeSonnet4,
	})
	require.NoError(t, err)
	require.Equal(t, ai.ModelClaudeSonnet4, backend.invokeID)
	require.Contains(t, string(backend.body), `"anthropic_version"`)
	require.Len(t, res.Items, 2)
	require.Equal(t, "a", res.Items[0]["title"])
	require.Equal(t, ai.ModelClaudeSonnet4, res.ModelUsed)
}

func TestAnswerSingleTurnWithoutItems(t *testing.T) {
	backend := &fakeBackend{reply: []byte(`{"output":{"text":"no json here"}}`)}
	svc, logs := newTestRAG(backend, "")
	res, err := svc.AnswerSingleTurn(context.Background(), GenerateRequest{Requirement: "x", ModelID: ai.ModelNovaPro})
	require.NoError(t, err)
	require.Empty(t, res.Items)
	require.NotNil(t, res.Items)
	require.Equal(t, 1, logs.FilterMessage("model reply carries no items list").Len())
}
