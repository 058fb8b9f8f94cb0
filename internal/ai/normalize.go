package ai

import (
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/model"
)

// NoAnswerText is returned when no rule finds generated text.
const NoAnswerText = "No answer was generated"

type Mode int

const (
	ModeGenerate Mode = iota
	ModeRetrievalOnly
)

type textRule struct {
	name    string
	extract func(doc Document) (string, bool)
}

// textRules are tried in order; the first match wins.
var textRules = []textRule{
	{name: "content_first_text", extract: contentFirstText},
	{name: "content_parts", extract: contentParts},
	{name: "output_text", extract: outputText},
	{name: "text", extract: topLevelText},
	{name: "content_literal", extract: contentLiteral},
	{name: "results_output_text", extract: resultsOutputText},
}

func contentFirstText(doc Document) (string, bool) {
	content := doc.Get("content")
	if !content.IsArray() {
		return "", false
	}
	items := content.Array()
	if len(items) == 0 || !items[0].IsObject() {
		return "", false
	}
	return nonEmptyString(items[0].Get("text"))
}

func contentParts(doc Document) (string, bool) {
	content := doc.Get("content")
	items := content.Array()
	if !content.IsArray() || len(items) == 0 {
		return "", false
	}
	parts := items
	if items[0].IsArray() {
		parts = items[0].Array()
	}
	var sb strings.Builder
	for _, part := range parts {
		if part.IsObject() {
			if text, ok := nonEmptyString(part.Get("text")); ok {
				sb.WriteString(text)
			}
			continue
		}
		if text, ok := nonEmptyString(part); ok {
			sb.WriteString(text)
		}
	}
	if sb.Len() == 0 {
		return "", false
	}
	return sb.String(), true
}

func outputText(doc Document) (string, bool) {
	output := doc.Get("output")
	if output.IsObject() {
		return nonEmptyString(output.Get("text"))
	}
	return nonEmptyString(output)
}

func topLevelText(doc Document) (string, bool) {
	return nonEmptyString(doc.Get("text"))
}

func contentLiteral(doc Document) (string, bool) {
	return nonEmptyString(doc.Get("content"))
}

func resultsOutputText(doc Document) (string, bool) {
	results := doc.Get("results")
	items := results.Array()
	if !results.IsArray() || len(items) == 0 {
		return "", false
	}
	return nonEmptyString(items[0].Get("outputText"))
}

type Normalizer struct {
	logger *zap.Logger
	// OnMiss is called with the field name whenever a reply yields nothing for it.
	OnMiss func(field string)
}

func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger.With(zap.String("component", "normalizer"))}
}

// Normalize never fails. Malformed or partial replies produce the sentinel
// text and whatever citations could be read.
func (n *Normalizer) Normalize(raw []byte, desc ModelDescriptor, mode Mode) model.NormalizedResult {
	logger := n.logger.With(
		zap.String("model_id", desc.LogicalID),
		zap.String("provider", string(desc.Provider)),
		zap.String("target", desc.Target.Kind.String()),
	)
	result := model.NormalizedResult{Text: NoAnswerText, Citations: []model.Citation{}}
	doc, ok := ParseDocument(raw)
	if !ok {
		logger.Warn("normalization miss: reply is not a json document", zap.Int("size", len(raw)))
		n.miss("document")
		return result
	}
	if mode == ModeRetrievalOnly {
		result.Citations = retrievalResults(doc)
		if len(result.Citations) == 0 {
			n.miss("citations")
		}
		return result
	}
	if text, rule, found := n.extractText(doc); found {
		logger.Debug("answer text extracted", zap.String("rule", rule))
		result.Text = text
	} else {
		logger.Warn("normalization miss: no answer text", zap.Strings("keys", doc.Keys()))
		n.miss("text")
	}
	result.Citations = append(generatedCitations(doc), retrievalResults(doc)...)
	return result
}

// ExtractText runs only the text rules, for single-turn model replies.
func (n *Normalizer) ExtractText(raw []byte) (string, bool) {
	doc, ok := ParseDocument(raw)
	if !ok {
		n.logger.Warn("normalization miss: reply is not a json document", zap.Int("size", len(raw)))
		n.miss("document")
		return NoAnswerText, false
	}
	text, _, found := n.extractText(doc)
	if !found {
		n.logger.Warn("normalization miss: no answer text", zap.Strings("keys", doc.Keys()))
		n.miss("text")
		return NoAnswerText, false
	}
	return text, true
}

func (n *Normalizer) extractText(doc Document) (string, string, bool) {
	if text, rule, ok := applyTextRules(doc); ok {
		return text, rule, true
	}
	if body, ok := doc.body(); ok {
		if text, rule, ok := applyTextRules(body); ok {
			return text, "body." + rule, true
		}
	}
	return "", "", false
}

func applyTextRules(doc Document) (string, string, bool) {
	for _, rule := range textRules {
		if text, ok := rule.extract(doc); ok {
			return text, rule.name, true
		}
	}
	return "", "", false
}

func (n *Normalizer) miss(field string) {
	if n.OnMiss != nil {
		n.OnMiss(field)
	}
}

func generatedCitations(doc Document) []model.Citation {
	out := []model.Citation{}
	eachItem(doc.Get("citations"), func(citation gjson.Result) {
		eachItem(citation.Get("retrievedReferences"), func(ref gjson.Result) {
			if c, ok := toCitation(ref); ok {
				out = append(out, c)
			}
		})
	})
	return out
}

func retrievalResults(doc Document) []model.Citation {
	out := []model.Citation{}
	eachItem(doc.Get("retrievalResults"), func(item gjson.Result) {
		if c, ok := toCitation(item); ok {
			out = append(out, c)
		}
	})
	return out
}

// toCitation keeps partially populated items; only items carrying none of
// content, location or score are dropped.
func toCitation(item gjson.Result) (model.Citation, bool) {
	if !item.IsObject() {
		return model.Citation{}, false
	}
	var c model.Citation
	found := false
	content := item.Get("content")
	if content.IsObject() {
		if text, ok := nonEmptyString(content.Get("text")); ok {
			c.Content = text
			found = true
		}
	} else if text, ok := nonEmptyString(content); ok {
		c.Content = text
		found = true
	}
	if uri, ok := nonEmptyString(item.Get("location.s3Location.uri")); ok {
		c.SourceLocation = &uri
		found = true
	}
	if score := item.Get("score"); score.Type == gjson.Number {
		v := clampScore(score.Float())
		c.RelevanceScore = &v
		found = true
	}
	return c, found
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
