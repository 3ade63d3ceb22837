// Package report turns symptom descriptions and photos into structured
// diagnosis reports via the hosted generative-text API.
package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const (
	maxAttempts = 3
	retryStep   = 2 * time.Second
)

// ErrPayloadTooLarge means the request body (usually the images) exceeded
// the service limit. Retrying the same payload will not help.
var ErrPayloadTooLarge = errors.New("request payload too large, try fewer or smaller images")

// ErrMalformedReport means the model replied but no parsable JSON report
// could be extracted from the reply.
var ErrMalformedReport = errors.New("model reply did not contain a valid report")

// Image is one photo attached to a report request.
type Image struct {
	MIMEType string
	Data     []byte
}

// Diagnosis is the structured report parsed out of the model reply.
type Diagnosis struct {
	Condition       string   `json:"condition"`
	Severity        string   `json:"severity"`
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
}

// Client is a client for the generative-text API.
type Client struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client

	// RetryStep overrides the base retry delay; zero means the default.
	RetryStep time.Duration
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{},
	}
}

// Request and response shapes of the generateContent endpoint; only the
// fields this client uses are modeled.

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate asks the model for a diagnosis report. Failures are retried up
// to 3 attempts with a linearly increasing delay (2s, then 4s); the final
// error is classified so callers can message the user precisely.
func (c *Client) Generate(ctx context.Context, prompt string, images []Image) (*Diagnosis, error) {
	var diagnosis *Diagnosis
	op := func() error {
		d, err := c.generateOnce(ctx, prompt, images)
		if err != nil {
			return err
		}
		diagnosis = d
		return nil
	}

	step := c.RetryStep
	if step == 0 {
		step = retryStep
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(newLinearBackOff(step), maxAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, classify(err)
	}
	return diagnosis, nil
}

func (c *Client) generateOnce(ctx context.Context, prompt string, images []Image) (*Diagnosis, error) {
	parts := make([]contentPart, 0, len(images)+1)
	parts = append(parts, contentPart{Text: prompt})
	for _, img := range images {
		parts = append(parts, contentPart{
			InlineData: &inlineData{
				MIMEType: img.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}

	reqBody, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, c.Model, c.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		return nil, fmt.Errorf("%w (status %d)", ErrPayloadTooLarge, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Candidates) == 0 {
		return nil, fmt.Errorf("%w: reply had no candidates", ErrMalformedReport)
	}

	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return parseDiagnosis(text.String())
}

// parseDiagnosis extracts the JSON object out of a possibly fenced or
// prose-wrapped reply and unmarshals it.
func parseDiagnosis(reply string) (*Diagnosis, error) {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	var d Diagnosis
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	return &d, nil
}

// ExtractJSON locates the JSON payload in free-form model output: a fenced
// code block wins, otherwise the span from the first '{' to the last '}'.
func ExtractJSON(s string) (string, error) {
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j]), nil
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1], nil
	}
	return "", fmt.Errorf("%w: no JSON object found", ErrMalformedReport)
}

// classify maps the final error after exhausted retries onto the
// distinguished failure classes.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return err
	case errors.Is(err, ErrMalformedReport):
		return err
	default:
		return fmt.Errorf("report generation failed: %w", err)
	}
}

// linearBackOff waits step x attempt-number between retries: 2s after the
// first failure, 4s after the second.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func newLinearBackOff(step time.Duration) *linearBackOff {
	return &linearBackOff{step: step}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}
