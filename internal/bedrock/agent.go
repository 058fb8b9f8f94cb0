package bedrock

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"

	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/awsutil"
)

type agentAPI interface {
	GetDataSource(ctx context.Context, params *bedrockagent.GetDataSourceInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.GetDataSourceOutput, error)
	StartIngestionJob(ctx context.Context, params *bedrockagent.StartIngestionJobInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.StartIngestionJobOutput, error)
}

// Agent resolves data source storage and schedules ingestion jobs.
type Agent struct {
	client agentAPI
}

func NewAgent(ctx context.Context, region string, creds awsutil.Credentials) (*Agent, error) {
	awsCfg, err := awsutil.LoadConfig(ctx, region, creds)
	if err != nil {
		return nil, err
	}
	return &Agent{client: bedrockagent.NewFromConfig(awsCfg)}, nil
}

func (a *Agent) GetDataSource(ctx context.Context, knowledgeBaseID, dataSourceID string) (*model.DataSource, error) {
	out, err := a.client.GetDataSource(ctx, &bedrockagent.GetDataSourceInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
		DataSourceId:    aws.String(dataSourceID),
	})
	if err != nil {
		return nil, fmt.Errorf("get data source %s/%s: %w", knowledgeBaseID, dataSourceID, err)
	}
	ds := &model.DataSource{Prefixes: []string{""}}
	if out.DataSource == nil || out.DataSource.DataSourceConfiguration == nil || out.DataSource.DataSourceConfiguration.S3Configuration == nil {
		return ds, nil
	}
	s3cfg := out.DataSource.DataSourceConfiguration.S3Configuration
	ds.Bucket = BucketFromARN(aws.ToString(s3cfg.BucketArn))
	if len(s3cfg.InclusionPrefixes) > 0 {
		ds.Prefixes = s3cfg.InclusionPrefixes
	}
	return ds, nil
}

func (a *Agent) StartIngestionJob(ctx context.Context, knowledgeBaseID, dataSourceID string) (string, error) {
	out, err := a.client.StartIngestionJob(ctx, &bedrockagent.StartIngestionJobInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
		DataSourceId:    aws.String(dataSourceID),
	})
	if err != nil {
		return "", fmt.Errorf("start ingestion job %s/%s: %w", knowledgeBaseID, dataSourceID, err)
	}
	if out.IngestionJob == nil {
		return "", nil
	}
	return aws.ToString(out.IngestionJob.IngestionJobId), nil
}

// BucketFromARN turns arn:aws:s3:::bucket into bucket.
func BucketFromARN(arn string) string {
	if arn == "" {
		return ""
	}
	if idx := strings.LastIndex(arn, ":::"); idx >= 0 {
		return arn[idx+3:]
	}
	return arn
}
