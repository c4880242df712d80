// Package translation detects the user's language and moves text to and
// from the English pivot the pipeline works in.
package translation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/ayureze/astra/internal/provider"
)

// English is the pivot language.
const English = "en"

// Service is the translation collaborator of the pipeline.
type Service interface {
	DetectLanguage(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// languageNames maps supported codes to names used in translation prompts.
var languageNames = map[string]string{
	"en":  "English",
	"hi":  "Hindi",
	"ta":  "Tamil",
	"te":  "Telugu",
	"bn":  "Bengali",
	"mr":  "Marathi",
	"gu":  "Gujarati",
	"kn":  "Kannada",
	"ml":  "Malayalam",
	"pa":  "Punjabi",
	"or":  "Odia",
	"as":  "Assamese",
	"ur":  "Urdu",
	"sa":  "Sanskrit",
	"ne":  "Nepali",
	"si":  "Sinhala",
	"ks":  "Kashmiri",
	"sd":  "Sindhi",
	"doi": "Dogri",
	"mni": "Manipuri",
	"sat": "Santali",
	"gom": "Konkani",
}

// Supported lists the language codes, sorted.
func Supported() []string {
	out := make([]string, 0, len(languageNames))
	for code := range languageNames {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// IsSupported reports whether code is a known language.
func IsSupported(code string) bool {
	_, ok := languageNames[code]
	return ok
}

// Passthrough treats every message as English and never translates.
type Passthrough struct{}

func (Passthrough) DetectLanguage(context.Context, string) (string, error) { return English, nil }

func (Passthrough) Translate(_ context.Context, text, _, _ string) (string, error) { return text, nil }

// scriptLanguages maps a Unicode script to the language most commonly
// written in it. Devanagari defaults to Hindi, Bengali script to Bengali.
var scriptLanguages = []struct {
	table *unicode.RangeTable
	code  string
}{
	{unicode.Devanagari, "hi"},
	{unicode.Bengali, "bn"},
	{unicode.Gurmukhi, "pa"},
	{unicode.Gujarati, "gu"},
	{unicode.Oriya, "or"},
	{unicode.Tamil, "ta"},
	{unicode.Telugu, "te"},
	{unicode.Kannada, "kn"},
	{unicode.Malayalam, "ml"},
	{unicode.Sinhala, "si"},
	{unicode.Arabic, "ur"},
	{unicode.Ol_Chiki, "sat"},
	{unicode.Meetei_Mayek, "mni"},
}

// DetectScript returns the language of the dominant non-Latin script in
// text, or English when letters are mostly Latin.
func DetectScript(text string) string {
	counts := make(map[string]int)
	latin := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) && !unicode.Is(unicode.Mc, r) {
			continue
		}
		if unicode.Is(unicode.Latin, r) {
			latin++
			continue
		}
		for _, s := range scriptLanguages {
			if unicode.Is(s.table, r) {
				counts[s.code]++
				break
			}
		}
	}
	best, bestN := English, latin
	for _, s := range scriptLanguages {
		if n := counts[s.code]; n > bestN {
			best, bestN = s.code, n
		}
	}
	return best
}

// ScriptDetector detects by script and translates with next when set.
type ScriptDetector struct {
	next Service
}

// NewScriptDetector wraps an optional translator. With a nil translator,
// Translate returns its input.
func NewScriptDetector(next Service) *ScriptDetector {
	return &ScriptDetector{next: next}
}

func (d *ScriptDetector) DetectLanguage(_ context.Context, text string) (string, error) {
	return DetectScript(text), nil
}

func (d *ScriptDetector) Translate(ctx context.Context, text, source, target string) (string, error) {
	if d.next == nil || source == target {
		return text, nil
	}
	return d.next.Translate(ctx, text, source, target)
}

// LLMTranslator translates through a chat model.
type LLMTranslator struct {
	llm   provider.LLMProvider
	model string
}

// NewLLMTranslator creates a translator. An empty model uses the provider
// default.
func NewLLMTranslator(llm provider.LLMProvider, model string) *LLMTranslator {
	return &LLMTranslator{llm: llm, model: model}
}

func (t *LLMTranslator) DetectLanguage(_ context.Context, text string) (string, error) {
	return DetectScript(text), nil
}

func (t *LLMTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	if source == target || strings.TrimSpace(text) == "" {
		return text, nil
	}
	src, ok := languageNames[source]
	if !ok {
		return "", fmt.Errorf("unsupported source language %q", source)
	}
	dst, ok := languageNames[target]
	if !ok {
		return "", fmt.Errorf("unsupported target language %q", target)
	}
	resp, err := t.llm.Chat(ctx, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: fmt.Sprintf("Translate the user's message from %s to %s. Reply with the translation only. Keep phone numbers, emoji and line breaks unchanged.", src, dst)},
			{Role: "user", Content: text},
		},
		Model:       t.model,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("translate %s->%s: %w", source, target, err)
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", fmt.Errorf("translate %s->%s: empty result", source, target)
	}
	return out, nil
}
