// Package llm builds the genai client shared by image generation and the
// chat agent.
package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrNoCredentials is returned when neither an API key nor a Vertex AI
// project is configured.
var ErrNoCredentials = errors.New("no GOOGLE_API_KEY or GOOGLE_CLOUD_PROJECT configured")

// Settings selects the genai backend.
type Settings struct {
	APIKey   string
	Project  string
	Location string
}

// ClientConfig returns the genai client configuration for s. A project
// selects Vertex AI; otherwise the Gemini API is used with the API key.
func ClientConfig(s Settings) (*genai.ClientConfig, error) {
	switch {
	case s.Project != "":
		return &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  s.Project,
			Location: s.Location,
		}, nil
	case s.APIKey != "":
		return &genai.ClientConfig{
			APIKey:  s.APIKey,
			Backend: genai.BackendGeminiAPI,
		}, nil
	default:
		return nil, ErrNoCredentials
	}
}

// NewClient creates a genai client for s.
func NewClient(ctx context.Context, s Settings) (*genai.Client, error) {
	cc, err := ClientConfig(s)
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}
