package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/ai"
)

type fakeRuntime struct {
	input *bedrockruntime.InvokeModelInput
	body  []byte
	err   error
}

func (f *fakeRuntime) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

type fakeAgentRuntime struct {
	ragInput      *bedrockagentruntime.RetrieveAndGenerateInput
	ragOutput     *bedrockagentruntime.RetrieveAndGenerateOutput
	retrieveInput *bedrockagentruntime.RetrieveInput
	retrieveOut   *bedrockagentruntime.RetrieveOutput
	err           error
}

func (f *fakeAgentRuntime) RetrieveAndGenerate(ctx context.Context, params *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error) {
	f.ragInput = params
	return f.ragOutput, f.err
}

func (f *fakeAgentRuntime) Retrieve(ctx context.Context, params *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error) {
	f.retrieveInput = params
	return f.retrieveOut, f.err
}

func s3Location(uri string) *agenttypes.RetrievalResultLocation {
	return &agenttypes.RetrievalResultLocation{
		Type:       agenttypes.RetrievalResultLocationTypeS3,
		S3Location: &agenttypes.RetrievalResultS3Location{Uri: aws.String(uri)},
	}
}

func TestRetrieveAndGenerateReplyNormalizes(t *testing.T) {
	agent := &fakeAgentRuntime{ragOutput: &bedrockagentruntime.RetrieveAndGenerateOutput{
		Output:    &agenttypes.RetrieveAndGenerateOutput{Text: aws.String("Invoices are stored in S3.")},
		SessionId: aws.String("s-1"),
		Citations: []agenttypes.Citation{{
			RetrievedReferences: []agenttypes.RetrievedReference{
				{
					Content:  &agenttypes.RetrievalResultContent{Text: aws.String("chunk one")},
					Location: s3Location("s3://docs/a.pdf"),
				},
				{Location: &agenttypes.RetrievalResultLocation{Type: agenttypes.RetrievalResultLocationTypeWeb}},
			},
		}},
	}}
	b := &backend{agentRuntime: agent}
	raw, err := b.RetrieveAndGenerate(context.Background(), &ai.RetrieveAndGenerateInput{
		KnowledgeBaseID: "KB1",
		Prompt:          "where are invoices?",
		ModelARN:        "arn:aws:bedrock:eu-west-1::foundation-model/x",
	})
	require.NoError(t, err)

	cfg := agent.ragInput.RetrieveAndGenerateConfiguration
	require.Equal(t, agenttypes.RetrieveAndGenerateTypeKnowledgeBase, cfg.Type)
	require.Equal(t, "KB1", aws.ToString(cfg.KnowledgeBaseConfiguration.KnowledgeBaseId))
	vector := cfg.KnowledgeBaseConfiguration.RetrievalConfiguration.VectorSearchConfiguration
	require.Equal(t, int32(ai.DefaultNumberOfResults), aws.ToInt32(vector.NumberOfResults))
	require.Equal(t, agenttypes.SearchTypeHybrid, vector.OverrideSearchType)
	require.Nil(t, cfg.KnowledgeBaseConfiguration.GenerationConfiguration)

	res := ai.NewNormalizer(zap.NewNop()).Normalize(raw, ai.ModelDescriptor{LogicalID: "x"}, ai.ModeGenerate)
	require.Equal(t, "Invoices are stored in S3.", res.Text)
	require.Len(t, res.Citations, 1)
	require.Equal(t, "chunk one", res.Citations[0].Content)
	require.Equal(t, "s3://docs/a.pdf", *res.Citations[0].SourceLocation)
}

func TestRetrieveReplyNormalizes(t *testing.T) {
	agent := &fakeAgentRuntime{retrieveOut: &bedrockagentruntime.RetrieveOutput{
		RetrievalResults: []agenttypes.KnowledgeBaseRetrievalResult{
			{Content: &agenttypes.RetrievalResultContent{Text: aws.String("r1")}, Location: s3Location("s3://docs/b.pdf"), Score: aws.Float64(0.83)},
			{Content: &agenttypes.RetrievalResultContent{Text: aws.String("r2")}},
		},
	}}
	b := &backend{agentRuntime: agent}
	raw, err := b.Retrieve(context.Background(), &ai.RetrieveInput{KnowledgeBaseID: "KB1", Query: "q", NumberOfResults: 3, SearchType: "SEMANTIC"})
	require.NoError(t, err)
	require.Equal(t, "q", aws.ToString(agent.retrieveInput.RetrievalQuery.Text))
	vector := agent.retrieveInput.RetrievalConfiguration.VectorSearchConfiguration
	require.Equal(t, int32(3), aws.ToInt32(vector.NumberOfResults))
	require.Equal(t, agenttypes.SearchTypeSemantic, vector.OverrideSearchType)

	res := ai.NewNormalizer(zap.NewNop()).Normalize(raw, ai.ModelDescriptor{LogicalID: "x"}, ai.ModeRetrievalOnly)
	require.Len(t, res.Citations, 2)
	require.Equal(t, 0.83, *res.Citations[0].RelevanceScore)
	require.Nil(t, res.Citations[1].RelevanceScore)
}

func TestAdaptNilOutputs(t *testing.T) {
	require.Equal(t, ragReply{Citations: []replyCitation{}}, adaptRetrieveAndGenerate(nil))
	require.Equal(t, retrieveReply{RetrievalResults: []replyReference{}}, adaptRetrieve(nil))
}

func TestInvokeModel(t *testing.T) {
	rt := &fakeRuntime{body: []byte(`{"content":[{"text":"ok"}]}`)}
	b := &backend{runtime: rt}
	out, err := b.InvokeModel(context.Background(), "arn:profile", []byte(`{}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"content":[{"text":"ok"}]}`, string(out))
	require.Equal(t, "arn:profile", aws.ToString(rt.input.ModelId))
	require.Equal(t, "application/json", aws.ToString(rt.input.ContentType))

	rt.err = errors.New("throttled")
	_, err = b.InvokeModel(context.Background(), "m", nil)
	require.ErrorContains(t, err, "invoke model m")
}

func TestBackendErrorsWrapKnowledgeBase(t *testing.T) {
	b := &backend{agentRuntime: &fakeAgentRuntime{err: errors.New("denied")}}
	_, err := b.RetrieveAndGenerate(context.Background(), &ai.RetrieveAndGenerateInput{KnowledgeBaseID: "KB9"})
	require.ErrorContains(t, err, "KB9")
	_, err = b.Retrieve(context.Background(), &ai.RetrieveInput{KnowledgeBaseID: "KB9"})
	require.ErrorContains(t, err, "denied")
}

func TestCreateBackendRequiresRegion(t *testing.T) {
	_, err := ai.NewBackend(context.Background(), "bedrock", &Config{})
	require.Error(t, err)
	_, err = ai.NewBackend(context.Background(), "bedrock", nil)
	require.Error(t, err)
}
