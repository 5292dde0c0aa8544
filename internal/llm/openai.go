package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/llm"

const (
	defaultTimeout     = 60 * time.Second
	defaultRateLimit   = 5.0
	defaultBurst       = 5
	defaultBaseBackoff = 500 * time.Millisecond
)

// Config configures an OpenAI-compatible chat completion client.
type Config struct {
	Model   string
	BaseURL string
	APIKey  string

	// Temperature is sent only when non-zero, unless a call overrides it.
	Temperature float64
	MaxTokens   int

	// Timeout bounds each attempt.
	Timeout time.Duration

	// RateLimit is requests per second shared by all callers.
	RateLimit float64
	Burst     int

	// MaxRetries is the number of retries after the first attempt for
	// rate-limit, server and network errors.
	MaxRetries  int
	BaseBackoff time.Duration

	HTTPClient *http.Client
}

// ConfigFrom maps the application config onto a Config.
func ConfigFrom(cfg config.LLMConfig) Config {
	return Config{
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey.Value(),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout.Duration(),
		RateLimit:   cfg.RateLimit,
		Burst:       cfg.Burst,
		MaxRetries:  cfg.MaxRetries,
	}
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.Burst == 0 {
		c.Burst = defaultBurst
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
}

// OpenAICompleter calls an OpenAI-compatible chat completions API through
// langchaingo.
type OpenAICompleter struct {
	model   llms.Model
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *metrics
}

// NewOpenAICompleter creates a completer. An API key is required.
func NewOpenAICompleter(cfg Config, logger *zap.Logger) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model required")
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return newCompleter(client, cfg, logger), nil
}

func newCompleter(model llms.Model, cfg Config, logger *zap.Logger) *OpenAICompleter {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &OpenAICompleter{
		model:   model,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		metrics: newMetrics(otel.Meter(instrumentationName), logger),
	}
}

// Complete sends messages and returns the first choice's text.
//
// Calls wait on a shared rate limiter. Rate-limit (429), server (5xx) and
// network errors are retried with exponential backoff. All failures are
// returned as *CompletionError.
func (c *OpenAICompleter) Complete(ctx context.Context, messages []Message, opts ...CallOption) (text string, err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "llm.Complete")
	defer func() {
		c.metrics.record(ctx, c.config.Model, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	span.SetAttributes(
		attribute.String("llm.model", c.config.Model),
		attribute.Int("llm.messages", len(messages)),
	)

	if len(messages) == 0 {
		return "", &CompletionError{Model: c.config.Model, Err: errors.New("no messages")}
	}

	content := toMessageContent(messages)
	callOpts := c.callOptions(ApplyOptions(opts...))

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.BaseBackoff * time.Duration(1<<(attempt-1))
			c.metrics.retry(ctx, c.config.Model)
			c.logger.Debug("retrying completion",
				zap.String("model", c.config.Model),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", &CompletionError{Model: c.config.Model, Attempts: attempts, Err: ctx.Err()}
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", &CompletionError{Model: c.config.Model, Attempts: attempts, Err: fmt.Errorf("rate limiter: %w", err)}
		}

		attempts++
		text, lastErr = c.attempt(ctx, content, callOpts)
		if lastErr == nil {
			span.SetAttributes(attribute.Int("llm.attempts", attempts))
			return text, nil
		}
		if !isRetryable(lastErr) {
			break
		}
	}

	return "", &CompletionError{Model: c.config.Model, Attempts: attempts, Err: lastErr}
}

func (c *OpenAICompleter) attempt(ctx context.Context, content []llms.MessageContent, opts []llms.CallOption) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("empty response")
	}
	return resp.Choices[0].Content, nil
}

func (c *OpenAICompleter) callOptions(o Options) []llms.CallOption {
	var opts []llms.CallOption
	switch {
	case o.Temperature != nil:
		opts = append(opts, llms.WithTemperature(*o.Temperature))
	case c.config.Temperature != 0:
		opts = append(opts, llms.WithTemperature(c.config.Temperature))
	}
	maxTokens := c.config.MaxTokens
	if o.MaxTokens > 0 {
		maxTokens = o.MaxTokens
	}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}
	return opts
}

func toMessageContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, len(messages))
	for i, m := range messages {
		var role llms.ChatMessageType
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		out[i] = llms.TextParts(role, m.Content)
	}
	return out
}

var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

// isRetryable reports whether err is a rate limit, server error, timeout or
// network failure.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code == http.StatusTooManyRequests || code >= 500
	}
	return false
}
