package secret

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/xxxsen/kbchat/internal/pkg/awsutil"
)

// DBCredentials is the JSON document stored for the audit database.
type DBCredentials struct {
	Host     string `json:"host"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Port     int    `json:"port"`
	Engine   string `json:"engine"`
}

func (c *DBCredentials) UnmarshalJSON(data []byte) error {
	type alias DBCredentials
	raw := struct {
		*alias
		Port json.RawMessage `json:"port"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	port, err := parsePort(raw.Port)
	if err != nil {
		return err
	}
	c.Port = port
	return nil
}

// The console stores port either as a number or as a string.
func parsePort(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("invalid port: %s", string(raw))
	}
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return n, nil
}

type Resolver interface {
	DBCredentials(ctx context.Context, name string) (*DBCredentials, error)
}

type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ManagerResolver reads secrets from Secrets Manager and keeps them for the
// lifetime of the resolver, which in Lambda is the warm container.
type ManagerResolver struct {
	client secretsAPI

	mu    sync.Mutex
	cache map[string]*DBCredentials
}

func NewManagerResolver(ctx context.Context, region string) (*ManagerResolver, error) {
	awsCfg, err := awsutil.LoadConfig(ctx, region, awsutil.Credentials{})
	if err != nil {
		return nil, err
	}
	return newManagerResolver(secretsmanager.NewFromConfig(awsCfg)), nil
}

func newManagerResolver(client secretsAPI) *ManagerResolver {
	return &ManagerResolver{client: client, cache: make(map[string]*DBCredentials)}
}

func (r *ManagerResolver) DBCredentials(ctx context.Context, name string) (*DBCredentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if creds, ok := r.cache[name]; ok {
		return creds, nil
	}
	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", name)
	}
	creds := &DBCredentials{}
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), creds); err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", name, err)
	}
	r.cache[name] = creds
	return creds, nil
}
