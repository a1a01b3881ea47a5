package flux

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	// DefaultTimeout bounds a single generation call.
	DefaultTimeout = 30 * time.Second

	// DefaultModel is the image model used when none is configured.
	DefaultModel = "imagen-3.0-generate-002"
)

// ImageModel is the slice of the genai Models service the client needs.
// *genai.Models satisfies it.
type ImageModel interface {
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// Client generates images through genai, guarded by a timeout and a
// circuit breaker.
type Client struct {
	images  ImageModel
	initErr error
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithInitError records why the backend client could not be built.
// Every Generate call then reports a client initialization failure.
func WithInitError(err error) Option {
	return func(c *Client) { c.initErr = err }
}

// NewClient creates a client over images. images may be nil, in which case
// generation reports a client initialization failure.
func NewClient(images ImageModel, opts ...Option) *Client {
	c := &Client{
		images:  images,
		model:   DefaultModel,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "flux",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a caller giving up says nothing about the backend
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("flux circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// Generate requests one image for prompt.
func (c *Client) Generate(ctx context.Context, prompt string) Result {
	if c.images == nil || c.initErr != nil {
		details := "no image backend configured"
		if c.initErr != nil {
			details = c.initErr.Error()
		}
		c.logger.Error("flux client unavailable", zap.String("details", details))
		return failure(CodeClientInit, "Failed to initialize Flux client", details)
	}
	if strings.TrimSpace(prompt) == "" {
		return failure(CodeInvalidPrompt, "Invalid prompt", "prompt is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, prompt)
	})
	if err != nil {
		res := c.classify(err)
		c.logger.Error("flux generation failed",
			zap.String("code", string(res.Code)),
			zap.Error(err),
		)
		return res
	}

	resp, _ := out.(*genai.GenerateImagesResponse)
	return Result{Predictions: toPredictions(resp)}
}

type callResult struct {
	resp *genai.GenerateImagesResponse
	err  error
}

// call races the backend against the deadline so a backend that ignores
// cancellation still cannot hang the caller.
func (c *Client) call(ctx context.Context, prompt string) (*genai.GenerateImagesResponse, error) {
	done := make(chan callResult, 1)
	go func() {
		resp, err := c.images.GenerateImages(ctx, c.model, prompt, &genai.GenerateImagesConfig{
			NumberOfImages: 1,
		})
		done <- callResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) classify(err error) Result {
	msg := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		return failure(CodeCanceled, "Generation canceled", "the request was canceled before the backend answered")
	case errors.Is(err, context.DeadlineExceeded):
		return failure(CodeTimeout, "Failed to generate prediction", fmt.Sprintf("timed out after %s", c.timeout))
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return failure(CodeUnavailable, "Flux backend unavailable", msg)
	case strings.Contains(msg, "RESOURCE_EXHAUSTED"), strings.Contains(msg, "429"):
		return failure(CodeResourceExhausted, "Failed to generate prediction", "resource exhausted: "+msg)
	case strings.Contains(msg, "INVALID_ARGUMENT"):
		return failure(CodeInvalidPrompt, "Invalid prompt", msg)
	default:
		return failure(CodeBackend, "Failed to generate prediction", msg)
	}
}

func toPredictions(resp *genai.GenerateImagesResponse) []Prediction {
	if resp == nil {
		return []Prediction{}
	}
	preds := make([]Prediction, 0, len(resp.GeneratedImages))
	for _, gi := range resp.GeneratedImages {
		if gi == nil {
			continue
		}
		p := Prediction{
			EnhancedPrompt: gi.EnhancedPrompt,
			FilteredReason: gi.RAIFilteredReason,
		}
		if gi.Image != nil {
			p.MIMEType = gi.Image.MIMEType
			p.URI = gi.Image.GCSURI
			if len(gi.Image.ImageBytes) > 0 {
				p.BytesBase64 = base64.StdEncoding.EncodeToString(gi.Image.ImageBytes)
			}
		}
		preds = append(preds, p)
	}
	return preds
}

var _ Generator = (*Client)(nil)
