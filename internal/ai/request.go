package ai

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultMaxTokens = 4000
	// Temperature is fixed to keep factual answers reproducible.
	Temperature      = 0.1
	DirectTopP       = 0.9
	anthropicVersion = "bedrock-2023-05-31"
	proProfileFamily = "nova-pro"
)

type Variant string

const (
	VariantAnthropicMessages       Variant = "anthropic_messages"
	VariantAmazonProfileStructured Variant = "amazon_profile_structured"
	VariantAmazonProfileSimple     Variant = "amazon_profile_simple"
	VariantAmazonDirect            Variant = "amazon_direct"
	VariantGenericFallback         Variant = "generic_fallback"
)

// GenerationRequest is the provider specific body of a single-turn model call.
type GenerationRequest interface {
	Variant() Variant
}

type textMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type textPart struct {
	Text string `json:"text"`
}

type partsMessage struct {
	Role    string     `json:"role"`
	Content []textPart `json:"content"`
}

type AnthropicMessages struct {
	AnthropicVersion string        `json:"anthropic_version"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	Messages         []textMessage `json:"messages"`
}

func (AnthropicMessages) Variant() Variant { return VariantAnthropicMessages }

// AmazonProfileStructured must not carry a "type" key in its content parts,
// the profile endpoint rejects it.
type AmazonProfileStructured struct {
	Messages []partsMessage `json:"messages"`
}

func (AmazonProfileStructured) Variant() Variant { return VariantAmazonProfileStructured }

type AmazonProfileSimple struct {
	Messages    []textMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

func (AmazonProfileSimple) Variant() Variant { return VariantAmazonProfileSimple }

type TextGenerationConfig struct {
	MaxTokenCount int     `json:"maxTokenCount"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"topP"`
}

type AmazonDirect struct {
	InputText            string               `json:"inputText"`
	TextGenerationConfig TextGenerationConfig `json:"textGenerationConfig"`
}

func (AmazonDirect) Variant() Variant { return VariantAmazonDirect }

type GenericFallback struct {
	Messages []textMessage `json:"messages"`
}

func (GenericFallback) Variant() Variant { return VariantGenericFallback }

type RequestOptions struct {
	MaxTokens int
}

// SelectVariant applies the provider/target precedence table.
func SelectVariant(desc ModelDescriptor) Variant {
	switch desc.Provider {
	case ProviderAnthropic:
		return VariantAnthropicMessages
	case ProviderAmazon:
		if !desc.UsesProfile() {
			return VariantAmazonDirect
		}
		if strings.Contains(desc.LogicalID, proProfileFamily) {
			return VariantAmazonProfileStructured
		}
		return VariantAmazonProfileSimple
	default:
		return VariantGenericFallback
	}
}

func BuildRequest(logger *zap.Logger, desc ModelDescriptor, prompt string, opts RequestOptions) GenerationRequest {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	variant := SelectVariant(desc)
	fields := []zap.Field{
		zap.String("model_id", desc.LogicalID),
		zap.String("provider", string(desc.Provider)),
		zap.String("target", desc.Target.Kind.String()),
		zap.String("variant", string(variant)),
	}
	switch variant {
	case VariantAnthropicMessages:
		logger.Debug("request body built", fields...)
		return AnthropicMessages{
			AnthropicVersion: anthropicVersion,
			MaxTokens:        maxTokens,
			Temperature:      Temperature,
			Messages:         []textMessage{{Role: "user", Content: prompt}},
		}
	case VariantAmazonProfileStructured:
		logger.Debug("request body built", fields...)
		return AmazonProfileStructured{
			Messages: []partsMessage{{Role: "user", Content: []textPart{{Text: prompt}}}},
		}
	case VariantAmazonProfileSimple:
		logger.Debug("request body built", fields...)
		return AmazonProfileSimple{
			Messages:    []textMessage{{Role: "user", Content: prompt}},
			MaxTokens:   maxTokens,
			Temperature: Temperature,
		}
	case VariantAmazonDirect:
		logger.Debug("request body built", fields...)
		return AmazonDirect{
			InputText: prompt,
			TextGenerationConfig: TextGenerationConfig{
				MaxTokenCount: maxTokens,
				Temperature:   Temperature,
				TopP:          DirectTopP,
			},
		}
	default:
		logger.Warn("unknown model provider, using generic messages body", fields...)
		return GenericFallback{
			Messages: []textMessage{{Role: "user", Content: prompt}},
		}
	}
}

func EncodeRequest(req GenerationRequest) ([]byte, error) {
	return json.Marshal(req)
}
