package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/pkg/awsutil"
)

type Config struct {
	Region      string              `json:"region"`
	Credentials awsutil.Credentials `json:"credentials"`
}

type runtimeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type agentRuntimeAPI interface {
	RetrieveAndGenerate(ctx context.Context, params *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
	Retrieve(ctx context.Context, params *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
}

type backend struct {
	runtime      runtimeAPI
	agentRuntime agentRuntimeAPI
}

func init() {
	ai.Register("bedrock", createBackend)
}

func createBackend(ctx context.Context, args interface{}) (ai.IBackend, error) {
	cfg := &Config{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("bedrock region is required")
	}
	awsCfg, err := awsutil.LoadConfig(ctx, cfg.Region, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	return &backend{
		runtime:      bedrockruntime.NewFromConfig(awsCfg),
		agentRuntime: bedrockagentruntime.NewFromConfig(awsCfg),
	}, nil
}

func (b *backend) Name() string {
	return "bedrock"
}

func (b *backend) InvokeModel(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	out, err := b.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("invoke model %s: %w", modelID, err)
	}
	return out.Body, nil
}

func (b *backend) RetrieveAndGenerate(ctx context.Context, in *ai.RetrieveAndGenerateInput) ([]byte, error) {
	// No generation or orchestration templates: the service defaults are the
	// ones that emit well-formed citations.
	out, err := b.agentRuntime.RetrieveAndGenerate(ctx, &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &agenttypes.RetrieveAndGenerateInput{Text: aws.String(in.Prompt)},
		RetrieveAndGenerateConfiguration: &agenttypes.RetrieveAndGenerateConfiguration{
			Type: agenttypes.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &agenttypes.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId:        aws.String(in.KnowledgeBaseID),
				ModelArn:               aws.String(in.ModelARN),
				RetrievalConfiguration: retrievalConfiguration(in.NumberOfResults, in.SearchType),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve and generate on %s: %w", in.KnowledgeBaseID, err)
	}
	return json.Marshal(adaptRetrieveAndGenerate(out))
}

func (b *backend) Retrieve(ctx context.Context, in *ai.RetrieveInput) ([]byte, error) {
	out, err := b.agentRuntime.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId:        aws.String(in.KnowledgeBaseID),
		RetrievalQuery:         &agenttypes.KnowledgeBaseQuery{Text: aws.String(in.Query)},
		RetrievalConfiguration: retrievalConfiguration(in.NumberOfResults, in.SearchType),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve on %s: %w", in.KnowledgeBaseID, err)
	}
	return json.Marshal(adaptRetrieve(out))
}

func retrievalConfiguration(numberOfResults int, searchType string) *agenttypes.KnowledgeBaseRetrievalConfiguration {
	if numberOfResults <= 0 {
		numberOfResults = ai.DefaultNumberOfResults
	}
	if searchType == "" {
		searchType = ai.SearchTypeHybrid
	}
	return &agenttypes.KnowledgeBaseRetrievalConfiguration{
		VectorSearchConfiguration: &agenttypes.KnowledgeBaseVectorSearchConfiguration{
			NumberOfResults:    aws.Int32(int32(numberOfResults)),
			OverrideSearchType: agenttypes.SearchType(searchType),
		},
	}
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("bedrock config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode bedrock config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode bedrock config: %w", err)
	}
	return nil
}
