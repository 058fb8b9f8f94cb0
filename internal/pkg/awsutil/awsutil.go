package awsutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/smithy-go"
)

// Credentials selects how clients authenticate. The zero value means the
// ambient chain (environment, shared config, execution role).
type Credentials struct {
	AccessKeyID     string `json:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string `json:"session_token" mapstructure:"session_token"`
}

func (c Credentials) Explicit() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

func (c Credentials) Mode() string {
	if c.Explicit() {
		return "explicit"
	}
	return "ambient"
}

func LoadConfig(ctx context.Context, region string, creds Credentials) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if creds.Explicit() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// ErrorCode returns the service error code, or "" for non-API errors.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func MaskKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
