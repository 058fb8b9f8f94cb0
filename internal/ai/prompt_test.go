package ai

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbchat/internal/model"
)

func TestClampItems(t *testing.T) {
	require.Equal(t, DefaultMaxItems, clampItems(0))
	require.Equal(t, DefaultMaxItems, clampItems(-2))
	require.Equal(t, 4, clampItems(4))
	require.Equal(t, 5, clampItems(9))
}

func TestBuildGenerationPrompt(t *testing.T) {
	prompt := BuildGenerationPrompt("Add SSO login", []model.ContextChunk{
		{DocumentID: "arch.pdf", TextChunk: "Services talk over SQS."},
		{TextChunk: "Orphan chunk."},
	}, 9, "")
	require.Contains(t, prompt, "Document: arch.pdf\nContent: Services talk over SQS.")
	require.Contains(t, prompt, "Document: unknown\nContent: Orphan chunk.")
	require.Contains(t, prompt, "REQUIREMENT TO ANALYZE:\nAdd SSO login")
	require.Contains(t, prompt, "No additional instructions were provided.")
	require.Contains(t, prompt, "generate 1 to 5 items")

	prompt = BuildGenerationPrompt("r", nil, 2, "Write in Spanish")
	require.Contains(t, prompt, "ADDITIONAL USER INSTRUCTIONS FOR CONTENT GENERATION:\nWrite in Spanish")
	require.Contains(t, prompt, "generate 1 to 2 items")
}
