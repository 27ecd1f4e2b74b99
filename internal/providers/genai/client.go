// Package genai calls the external image generation API. The API is a black
// box to this service: it receives a prompt plus source image bytes and
// returns generated image bytes or an error. An empty candidate list is a
// valid, non-error response meaning "no image produced".
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/restyle-app/server/internal/domain"
	"github.com/restyle-app/server/internal/infra"
	"github.com/restyle-app/server/internal/retry"
)

// ErrNoImages marks the generation API returning zero images even after its
// own retry. Repeated empty results are a model/prompt property rather than a
// transient fault, so callers should fail instead of spending their attempt
// budget on it.
var ErrNoImages = errors.New("no images generated")

// Options controls how the client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a thin facade over the generateContent endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// EditRequest carries one image edit invocation.
type EditRequest struct {
	Model       domain.GenerationModel
	ImageData   []byte
	ImageMIME   string
	Instruction string
	RequestID   string
}

// EditResult is the generated image.
type EditResult struct {
	Data     []byte
	MIMEType string
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiImageConfig struct {
	ImageSize string `json:"imageSize,omitempty"`
}

type geminiGenerationConfig struct {
	ImageConfig *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a client. A nil HTTP client gets a reusable one with
// a generous timeout; image generation calls routinely run tens of seconds.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("genai: api key is required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	logger := opts.Logger
	if logger == nil {
		discard := infra.Logger(zerolog.New(io.Discard))
		logger = &discard
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: client,
		logger:     logger,
	}, nil
}

var errEmptyCandidates = errors.New("genai: response contained no image")

// EditImage sends the source image plus instruction to the generation API.
// An empty result is retried exactly once; a second empty result returns
// ErrNoImages. Transport and API errors are returned as-is so the job-level
// retry budget owns those.
func (c *Client) EditImage(ctx context.Context, req EditRequest) (*EditResult, error) {
	if len(req.ImageData) == 0 {
		return nil, errors.New("genai: image data is required")
	}

	var result *EditResult
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: 2,
		Retriable:   func(err error) bool { return errors.Is(err, errEmptyCandidates) },
	}, func(ctx context.Context) error {
		res, err := c.editOnce(ctx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if errors.Is(err, errEmptyCandidates) {
			c.logger.Warn().
				Str("request_id", req.RequestID).
				Str("model", req.Model.APIModel()).
				Msg("genai: empty result after retry")
			return nil, ErrNoImages
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) editOnce(ctx context.Context, req EditRequest) (*EditResult, error) {
	mime := req.ImageMIME
	if mime == "" {
		mime = "image/jpeg"
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{
					MimeType: mime,
					Data:     base64.StdEncoding.EncodeToString(req.ImageData),
				}},
				{Text: req.Instruction},
			},
		}},
		GenerationConfig: &geminiGenerationConfig{
			ImageConfig: &geminiImageConfig{ImageSize: req.Model.ImageSize()},
		},
	}

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(req.Model.APIModel()))
	if err := c.invoke(ctx, path, payload, &response); err != nil {
		return nil, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("genai: decode inline data: %w", err)
			}
			format := part.InlineData.MimeType
			if format == "" {
				format = "image/png"
			}
			return &EditResult{Data: data, MIMEType: format}, nil
		}
	}
	return nil, errEmptyCandidates
}

func (c *Client) invoke(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("genai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("genai: create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("genai: invoke: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr geminiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("genai: status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("genai: status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("genai: decode response: %w", err)
	}
	return nil
}
