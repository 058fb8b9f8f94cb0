package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

type PutInput struct {
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
	Tags        map[string]string
}

type CopyInput struct {
	SrcKey      string
	DstKey      string
	ContentType string
	// Metadata replaces the source metadata.
	Metadata map[string]string
	// Tags replace the source tags; nil keeps them.
	Tags map[string]string
}

type DeleteFailure struct {
	Key     string
	Code    string
	Message string
}

// Store is the object storage behind a data source. Every call names its
// bucket since data sources may point at different buckets.
type Store interface {
	Type() string
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
	Put(ctx context.Context, bucket string, in *PutInput) (string, error)
	Copy(ctx context.Context, bucket string, in *CopyInput) error
	Delete(ctx context.Context, bucket, key string) error
	// DeleteBatch removes up to MaxBatchDelete keys and reports per-key failures.
	DeleteBatch(ctx context.Context, bucket string, keys []string) ([]DeleteFailure, error)
	Tags(ctx context.Context, bucket, key string) (map[string]string, error)
}

const MaxBatchDelete = 1000

type Factory func(ctx context.Context, args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(ctx context.Context, name string, args interface{}) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("file_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported file store type: %s", name)
	}
	return factory(ctx, args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("store config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode store config: %w", err)
	}
	return nil
}
