package ai

import (
	"fmt"
	"strings"

	"github.com/xxxsen/kbchat/internal/model"
)

const (
	DefaultMaxItems = 3
	maxItemsLimit   = 5
)

func clampItems(n int) int {
	if n <= 0 {
		return DefaultMaxItems
	}
	if n > maxItemsLimit {
		return maxItemsLimit
	}
	return n
}

// BuildGenerationPrompt embeds the context chunks, the requirement and the
// caller's directives. Directives are ranked above everything else.
func BuildGenerationPrompt(requirement string, chunks []model.ContextChunk, maxItems int, directives string) string {
	parts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		docID := chunk.DocumentID
		if docID == "" {
			docID = "unknown"
		}
		parts = append(parts, fmt.Sprintf("Document: %s\nContent: %s", docID, chunk.TextChunk))
	}
	if strings.TrimSpace(directives) == "" {
		directives = "No additional instructions were provided."
	}
	maxItems = clampItems(maxItems)
	return fmt.Sprintf(`You are an expert software architect familiar with enterprise applications.

APPLICATION CONTEXT:
%s

REQUIREMENT TO ANALYZE:
%s

ADDITIONAL USER INSTRUCTIONS FOR CONTENT GENERATION:
%s

INSTRUCTIONS:
Based on the application context, the requirement and the ADDITIONAL USER INSTRUCTIONS, generate 1 to %d items that:
1. STRICTLY follow the additional user instructions (HIGHEST PRIORITY)
2. Align with the existing architecture and patterns of the application
3. Reuse existing application components where possible
4. Follow the application's development standards and conventions
5. Consider integration points with current application features
6. Include realistic complexity estimates (scale 1-13)

IMPORTANT: The additional user instructions have the HIGHEST PRIORITY and are mandatory guidelines for the generated content.

OUTPUT FORMAT:
Return valid JSON only:
{
  "items": [
    {
      "title": "Item title (max 100 characters)",
      "description": "Detailed item description (max 500 characters)",
      "acceptanceCriteria": ["Criterion 1", "Criterion 2"],
      "applicationComponents": ["Component1", "Component2"],
      "integrationNotes": "Integration considerations",
      "estimatedComplexity": 8,
      "priority": "High|Medium|Low"
    }
  ]
}`, strings.Join(parts, "\n\n"), requirement, directives, maxItems)
}
