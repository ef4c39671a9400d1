// Package sentiment labels call transcripts with the caller's overall mood.
// Classification is a single cheap chat completion constrained to one word;
// anything the model says outside the allowed label set degrades to
// "unknown" rather than polluting the call log.
package sentiment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/frontdesk-ai/frontdesk/internal/settle"
)

// maxTranscriptChars bounds what is sent to the model. The tail of a long
// call carries the mood that matters, so truncation keeps the end.
const maxTranscriptChars = 1000

// labelUnknown is returned whenever classification cannot produce a valid
// label.
const labelUnknown = "unknown"

// allowedLabels is the closed label set persisted to call logs.
var allowedLabels = map[string]struct{}{
	"positive":   {},
	"neutral":    {},
	"negative":   {},
	"frustrated": {},
}

const systemPrompt = "You label the sentiment of a phone call transcript. " +
	"Reply with exactly one word: positive, neutral, negative or frustrated. " +
	"No punctuation, no explanation."

// Classifier labels transcripts using the OpenAI chat completions API. It
// implements [settle.Classifier].
type Classifier struct {
	client oai.Client
	model  string
}

var _ settle.Classifier = (*Classifier)(nil)

// config holds optional configuration for the classifier.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for [New].
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Classifier.
func New(apiKey, model string, opts ...Option) (*Classifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("sentiment: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("sentiment: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Classifier{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Classify implements [settle.Classifier]. It never returns a label outside
// the allowed set plus "unknown".
func (c *Classifier) Classify(ctx context.Context, transcript string) (string, error) {
	transcript = truncateTail(transcript, maxTranscriptChars)
	if strings.TrimSpace(transcript) == "" {
		return labelUnknown, nil
	}

	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(transcript),
		},
		MaxCompletionTokens: param.NewOpt(int64(5)),
		Temperature:         param.NewOpt(0.0),
	})
	if err != nil {
		return labelUnknown, fmt.Errorf("sentiment: classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return labelUnknown, fmt.Errorf("sentiment: classify: empty response")
	}

	return sanitizeLabel(resp.Choices[0].Message.Content), nil
}

// sanitizeLabel normalises model output and rejects anything outside the
// allowed set.
func sanitizeLabel(raw string) string {
	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.Trim(label, ".!\"'")
	if _, ok := allowedLabels[label]; !ok {
		return labelUnknown
	}
	return label
}

// truncateTail keeps the last max characters of s.
func truncateTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
