package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrUnavailable = errors.New("ai backend unavailable")

const (
	DefaultNumberOfResults = 10
	SearchTypeHybrid       = "HYBRID"
)

type RetrieveAndGenerateInput struct {
	KnowledgeBaseID string
	Prompt          string
	ModelARN        string
	NumberOfResults int
	SearchType      string
}

type RetrieveInput struct {
	KnowledgeBaseID string
	Query           string
	NumberOfResults int
	SearchType      string
}

// IBackend is the hosted generation service. Replies are returned as JSON
// documents so the normalizer reads every shape the same way.
type IBackend interface {
	Name() string
	InvokeModel(ctx context.Context, modelID string, body []byte) ([]byte, error)
	RetrieveAndGenerate(ctx context.Context, in *RetrieveAndGenerateInput) ([]byte, error)
	Retrieve(ctx context.Context, in *RetrieveInput) ([]byte, error)
}

type BackendFactory func(ctx context.Context, args interface{}) (IBackend, error)

var registry = map[string]BackendFactory{}

func Register(name string, factory BackendFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewBackend(ctx context.Context, name string, args interface{}) (IBackend, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai.backend is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai backend: %s", name)
	}
	return factory(ctx, args)
}
