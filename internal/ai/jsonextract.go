package ai

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/xxxsen/kbchat/internal/model"
)

var fencedBlock = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

type itemsEnvelope struct {
	Items []model.GeneratedItem `json:"items"`
}

// ParseItems reads the "items" list out of a model reply. It tries the whole
// text, then a fenced code block, then the widest {...} span.
func ParseItems(output string) ([]model.GeneratedItem, bool) {
	clean := strings.TrimSpace(output)
	if items, ok := decodeItems(clean); ok {
		return items, true
	}
	if m := fencedBlock.FindStringSubmatch(clean); m != nil {
		if items, ok := decodeItems(m[1]); ok {
			return items, true
		}
	}
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		if items, ok := decodeItems(clean[start : end+1]); ok {
			return items, true
		}
	}
	return []model.GeneratedItem{}, false
}

func decodeItems(text string) ([]model.GeneratedItem, bool) {
	var env itemsEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, false
	}
	if env.Items == nil {
		env.Items = []model.GeneratedItem{}
	}
	return env.Items, true
}
