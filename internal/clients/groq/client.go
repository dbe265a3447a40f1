package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

// Client talks to a Groq-compatible chat-completions endpoint. Keys are
// per-job (they arrive in the workflow input), so construction is cheap
// and done per call site rather than once at startup.
type Client interface {
	ChatCompletion(ctx context.Context, system string, user string) (string, error)
	Model() string
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	Timeout     time.Duration
}

type client struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing Groq API key")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.groq.com/openai"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "llama-3.3-70b-versatile"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &client{
		log:  log.With("client", "GroqClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// WithModel returns a client bound to the given model. The underlying
// HTTP client is shared; only the model differs.
func WithModel(base Client, model string) Client {
	model = strings.TrimSpace(model)
	if base == nil || model == "" {
		return base
	}
	if c, ok := base.(*client); ok {
		clone := *c
		clone.cfg.Model = model
		clone.log = c.log.With("model", model)
		return &clone
	}
	return base
}

func (c *client) Model() string { return c.cfg.Model }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *client) ChatCompletion(ctx context.Context, system string, user string) (string, error) {
	reqBody := chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
	}
	if strings.TrimSpace(system) != "" {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "system", Content: system})
	}
	reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "user", Content: user})

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	u := c.cfg.BaseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	var out chatResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		if out.Error != nil {
			apiErr.Code = out.Error.Code
			apiErr.Message = out.Error.Message
		}
		return "", apiErr
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("groq chat: empty choices (model=%s)", c.cfg.Model)
	}
	return out.Choices[0].Message.Content, nil
}

// APIError carries the provider's status and error code so callers can
// classify rate-limit conditions.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("groq api %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsRateLimit recognizes the provider's rate-limit signal: HTTP 429,
// the rate_limit_exceeded code, or a message naming the condition.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if strings.EqualFold(apiErr.Code, "rate_limit_exceeded") {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429")
}
