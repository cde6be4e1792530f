package llm

import (
	"fmt"
	"strings"

	"github.com/smartwords/api/internal/model"
)

const DefaultPromptVersion = "v1.0.0"

// SentencePromptV1 accepts the CEFR level and the numbered word list.
const SentencePromptV1 = `You are a helpful assistant for people learning English whose native language is Polish.
Your task is to write short, natural sentences in Polish that each contain one of the given English words.
Every sentence must be:
- Short (at most 10-15 words)
- Natural and easy to understand
- Appropriate for CEFR level %s
- Containing exactly one English word from the list, spelled exactly as given

Return the sentences as JSON only:
{
  "sentences": [
    {"pl_text": "Polish sentence", "target_en": "English word"}
  ]
}
where "pl_text" is the Polish sentence and "target_en" is the English word used in it.
Do not add any text outside the JSON.

Write sentences in Polish using the following English words:
%s

Write exactly one Polish sentence per word, in the same order as the list.`

var promptsByMajor = map[string]string{
	"v1": SentencePromptV1,
}

// BuildSentencePrompt picks the template by major prompt version and falls
// back to the current default for unknown versions.
func BuildSentencePrompt(version, level string, words []model.SnapshotWord) string {
	major := version
	if i := strings.Index(version, "."); i > 0 {
		major = version[:i]
	}
	tmpl, ok := promptsByMajor[major]
	if !ok {
		tmpl = SentencePromptV1
	}
	if level == "" {
		level = string(model.LevelA1)
	}

	lines := make([]string, len(words))
	for i, w := range words {
		lines[i] = fmt.Sprintf("%d. %s (%s)", i+1, w.En, w.Pl)
	}
	return fmt.Sprintf(tmpl, level, strings.Join(lines, "\n"))
}

// sentenceSchema is sent as a strict json_schema response_format.
var sentenceSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"sentences": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pl_text":   map[string]any{"type": "string"},
					"target_en": map[string]any{"type": "string"},
				},
				"required":             []string{"pl_text", "target_en"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"sentences"},
	"additionalProperties": false,
}
