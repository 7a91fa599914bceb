package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/daybrief-backend/internal/logger"
)

// LLMClient talks to an OpenAI-compatible chat completions endpoint and
// implements both the Summarizer and Classifier collaborators.
type LLMClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client

	maxRetries   int
	costPer1KIn  float64
	costPer1KOut float64
}

func NewLLMClient(log *logger.Logger) (*LLMClient, error) {
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing LLM_API_KEY")
	}

	baseURL := os.Getenv("LLM_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	timeoutSec := 180
	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 4
	if v := os.Getenv("LLM_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &LLMClient{
		log:          log.With("service", "LLMClient"),
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:   maxRetries,
		costPer1KIn:  envFloat("LLM_COST_PER_1K_IN", 0),
		costPer1KOut: envFloat("LLM_COST_PER_1K_OUT", 0),
	}, nil
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

type llmHTTPError struct {
	StatusCode int
	Body       string
}

func (e *llmHTTPError) Error() string {
	return fmt.Sprintf("llm http %d: %s", e.StatusCode, e.Body)
}

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	if code >= 500 && code <= 599 {
		return true
	}
	return false
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() || netErr.Temporary() {
			return true
		}
	}
	var httpErr *llmHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableHTTP(httpErr.StatusCode)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	// +/- 20%
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

func (c *LLMClient) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &llmHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *LLMClient) do(ctx context.Context, method, path string, body any, out any) error {
	// exponential backoff: 1s, 2s, 4s, 8s (cap ~10s)
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("llm decode error: %w", uErr)
			}
			return nil
		}

		if !isRetryableErr(err) {
			return err
		}

		if attempt == c.maxRetries {
			return err
		}

		sleepFor := backoff
		if resp != nil {
			ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
			if ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}

		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)

		c.log.Warn("LLM request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *LLMClient) chat(ctx context.Context, model, system, user string, maxTokens int) (*chatResponse, error) {
	req := chatRequest{Model: model, MaxTokens: maxTokens, Temperature: 0.2}
	req.Messages = []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	var resp chatResponse
	if err := c.do(ctx, "POST", "/v1/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *LLMClient) cost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1000*c.costPer1KIn + float64(tokensOut)/1000*c.costPer1KOut
}

// collabFromErr folds transport-level failures into the structured error
// shape the engine persists. Error messages stay content-free.
func collabFromErr(err error) *CollabError {
	var httpErr *llmHTTPError
	if errors.As(err, &httpErr) {
		return &CollabError{
			Code:    fmt.Sprintf("llm_http_%d", httpErr.StatusCode),
			Message: "model endpoint returned a non-success status",
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &CollabError{Code: "llm_timeout", Message: "model call timed out or was cancelled"}
	}
	return &CollabError{Code: "llm_unavailable", Message: "model endpoint unreachable"}
}

const summarizeSystemPrompt = "You summarize one day of a person's own " +
	"messages into a concise daily brief. Write in third person, preserve " +
	"concrete facts and decisions, and do not invent events."

func (c *LLMClient) Summarize(ctx context.Context, bundleText string, sc SummaryContext) (*SummaryResult, error) {
	resp, err := c.chat(ctx, sc.ModelID, summarizeSystemPrompt, bundleText, sc.TokenBudget)
	if err != nil {
		return nil, collabFromErr(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &CollabError{
			Code:      "llm_empty_response",
			Message:   "model returned no content",
			TokensIn:  resp.Usage.PromptTokens,
			TokensOut: resp.Usage.CompletionTokens,
			CostUSD:   c.cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		}
	}
	return &SummaryResult{
		Text:      strings.TrimSpace(resp.Choices[0].Message.Content),
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		CostUSD:   c.cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

func (c *LLMClient) Classify(ctx context.Context, atomText string, categories []string, promptVersionID string) (*ClassifyResult, error) {
	system := "Classify the user message into exactly one category. " +
		"Respond with the category name only, nothing else. Categories: " +
		strings.Join(categories, ", ") + ". Prompt version: " + promptVersionID + "."
	model := os.Getenv("LLM_CLASSIFY_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	resp, err := c.chat(ctx, model, system, atomText, 16)
	if err != nil {
		return nil, collabFromErr(err)
	}
	var category string
	if len(resp.Choices) > 0 {
		category = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	return &ClassifyResult{
		Category:  category,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		CostUSD:   c.cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}
