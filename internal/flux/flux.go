// Package flux wraps the image generation backend used by the flux agent.
// Generation never fails with a Go error: every outcome, including
// timeouts and quota errors, is reported inside a Result.
package flux

import (
	"context"
	"strings"
)

// ErrorCode classifies a failed generation.
type ErrorCode string

const (
	CodeInvalidPrompt     ErrorCode = "invalid_prompt"
	CodeClientInit        ErrorCode = "client_init"
	CodeTimeout           ErrorCode = "timeout"
	CodeCanceled          ErrorCode = "canceled"
	CodeResourceExhausted ErrorCode = "resource_exhausted"
	CodeUnavailable       ErrorCode = "unavailable"
	CodeBackend           ErrorCode = "backend"
)

// Prediction is one generated artifact.
type Prediction struct {
	MIMEType       string `json:"mimeType,omitempty"`
	BytesBase64    string `json:"bytesBase64Encoded,omitempty"`
	URI            string `json:"gcsUri,omitempty"`
	EnhancedPrompt string `json:"prompt,omitempty"`
	FilteredReason string `json:"raiFilteredReason,omitempty"`
}

// Result is the outcome of one generation call. Either Predictions is set
// or Error and Details describe what went wrong.
type Result struct {
	Predictions []Prediction `json:"predictions,omitempty"`
	Error       string       `json:"error,omitempty"`
	Details     string       `json:"details,omitempty"`
	Code        ErrorCode    `json:"code,omitempty"`
}

// Failed reports whether the result carries an error.
func (r Result) Failed() bool {
	return r.Error != ""
}

func failure(code ErrorCode, msg, details string) Result {
	return Result{Error: msg, Details: details, Code: code}
}

// Generator produces content for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) Result
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) Result

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) Result {
	return f(ctx, prompt)
}

var imageKeywords = []string{"image", "picture", "photo", "draw", "generate", "create", "render", "visualize", "design"}

// IsImagePrompt reports whether prompt likely asks for an image.
func IsImagePrompt(prompt string) bool {
	lowered := strings.ToLower(prompt)
	for _, kw := range imageKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// OutputType says how a generation result should be displayed.
type OutputType string

const (
	OutputImage OutputType = "image"
	OutputText  OutputType = "text"
)

// Output is a display-ready view of a Result.
type Output struct {
	Type    OutputType `json:"type"`
	Content string     `json:"content"`
}

// Interpret picks the first displayable image out of r, falling back to text.
func Interpret(r Result) Output {
	if r.Failed() {
		return Output{Type: OutputText, Content: r.Error}
	}
	if len(r.Predictions) == 0 {
		return Output{Type: OutputText, Content: "No response from Flux"}
	}

	for _, p := range r.Predictions {
		switch {
		case p.URI != "":
			return Output{Type: OutputImage, Content: p.URI}
		case p.BytesBase64 != "":
			mime := p.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return Output{Type: OutputImage, Content: "data:" + mime + ";base64," + p.BytesBase64}
		}
	}

	if reason := r.Predictions[0].FilteredReason; reason != "" {
		return Output{Type: OutputText, Content: "Image was filtered: " + reason}
	}
	return Output{Type: OutputText, Content: "No image was returned"}
}
