package model

const (
	QueryStatusPending   = "pending"
	QueryStatusCompleted = "completed"
	QueryStatusError     = "error"
)

type QueryLog struct {
	QueryID                 string
	ConversationID          string
	Username                string
	UserARN                 string
	Group                   string
	Person                  string
	Team                    string
	Query                   string
	QueryWordCount          int
	QueryCharCount          int
	TokensUsed              *int
	ModelID                 string
	KnowledgeBaseID         string
	Status                  string
	Response                string
	ResponseWordCount       int
	ResponseCharCount       int
	ProcessingTimeMs        int64
	VectorDBTimeMs          *int64
	LLMTimeMs               *int64
	ErrorMessage            string
	LambdaRequestID         string
	APIGatewayRequestID     string
	SourceIP                string
	RetrievedDocumentsCount int
	RetrievalOnly           bool
	RequestTime             int64
	ResponseTime            int64
}

type RetrievedDocument struct {
	QueryID           string
	DocumentReference string
	ChunkText         string
	SimilarityScore   float64
	RankPosition      int
	RetrievedAt       int64
}

type QueryCompletion struct {
	Response                string
	ProcessingTimeMs        int64
	TokensUsed              *int
	RetrievedDocumentsCount int
	VectorDBTimeMs          *int64
	LLMTimeMs               *int64
}
