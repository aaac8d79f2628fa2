// Package extract turns document bytes into structured indicators:
// splitting paginated documents, fanning extraction out over a bounded
// pool, and merging the per-page results.
package extract

import (
	"context"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/vitalstream/backend/internal/fault"
)

// Engine is the external extraction capability: it turns a file plus
// a prompt into text. A blank result is "no content", not an error;
// callers apply their own minimum-length heuristics.
type Engine interface {
	Extract(ctx context.Context, filePath, prompt, mimeType string) (string, error)
}

// IndicatorPrompt asks the engine for structured lab indicators as
// JSON. The shape is parsed by parsePageResult.
const IndicatorPrompt = `You are reading one page of a medical lab report.
Return a single JSON object, no prose, with this shape:
{"indicators":[{"name":"","value":"","unit":"","reference_range":"","method":"","status":"normal|high|low","note":""}],
 "report":{"date":"","lab":"","summary":""}}
Include every measurement on the page. Use the exact names and values
printed in the document. Leave unknown fields empty.`

// PlainTextPrompt asks for a faithful plain-text transcription. Used
// as the secondary path for flat documents when the structured prompt
// yields too little content.
const PlainTextPrompt = `Transcribe all text in this document faithfully as plain text.
Preserve reading order. Do not summarize or interpret.`

// LLMEngine adapts a multimodal language model to the Engine
// interface. The document bytes are attached as a binary part next to
// the prompt.
type LLMEngine struct {
	model llms.Model
}

// NewLLMEngine wraps a langchaingo model.
func NewLLMEngine(model llms.Model) *LLMEngine {
	return &LLMEngine{model: model}
}

// Extract sends the file and prompt to the model and returns the
// first choice's text content.
func (e *LLMEngine) Extract(ctx context.Context, filePath, prompt, mimeType string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fault.Wrap(fault.Extraction, err, "failed to read %s", filePath)
	}

	msg := llms.MessageContent{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.BinaryPart(mimeType, data),
			llms.TextPart(prompt),
		},
	}

	resp, err := e.model.GenerateContent(ctx, []llms.MessageContent{msg})
	if err != nil {
		return "", fault.Wrap(fault.Extraction, err, "engine call failed for %s", filePath)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

var _ Engine = (*LLMEngine)(nil)

// DisabledEngine is the engine used when no provider is configured.
// Every call fails with an extraction fault naming the reason, so
// uploads of extractable documents surface a clear per-file error
// instead of crashing the pipeline.
type DisabledEngine struct {
	Reason string
}

func (e DisabledEngine) Extract(ctx context.Context, filePath, prompt, mimeType string) (string, error) {
	return "", fault.New(fault.Extraction, "extraction engine unavailable: %s", e.Reason)
}

var _ Engine = DisabledEngine{}
