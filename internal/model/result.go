package model

type Citation struct {
	Content        string   `json:"content"`
	SourceLocation *string  `json:"location,omitempty"`
	RelevanceScore *float64 `json:"score,omitempty"`
}

// NormalizedResult is the uniform answer shape. Citations keep the backend
// relevance order, rank 1 first.
type NormalizedResult struct {
	Text             string     `json:"answer"`
	Citations        []Citation `json:"retrievalResults"`
	ProcessingTimeMs float64    `json:"processing_time_ms"`
}

type ContextChunk struct {
	DocumentID string `json:"document_id"`
	TextChunk  string `json:"text_chunk"`
}

type GeneratedItem map[string]interface{}

type GenerationResult struct {
	Items            []GeneratedItem `json:"items"`
	ProcessingTimeMs float64         `json:"processing_time_ms"`
	ModelUsed        string          `json:"model_used"`
}

type Identity struct {
	Username            string
	ARN                 string
	Group               string
	Person              string
	Team                string
	ConversationID      string
	SourceIP            string
	LambdaRequestID     string
	APIGatewayRequestID string
}
