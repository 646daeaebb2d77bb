package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/bloxbuddy/wizard/internal/ratelimit"
)

const (
	baseURL             = "https://api.openai.com/v1"
	maxRetries          = 3
	initialBackoff      = 500 * time.Millisecond
	maxBackoff          = 30 * time.Second
	defaultTimeout      = 30 * time.Second
	maxIdleConns        = 100
	maxConnsPerHost     = 100
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
)

// Client is an OpenAI API client with connection pooling and retries.
type Client struct {
	httpClient   *http.Client
	apiKey       string
	embedLimiter *ratelimit.LeakyBucket
	chatLimiter  *ratelimit.LeakyBucket

	// Usage tracking
	usageMu           sync.Mutex
	totalPromptTokens int64
	totalOutputTokens int64
	totalEmbedTokens  int64
	chatCalls         int64
	embedCalls        int64
}

// NewClient creates a new OpenAI client with pooled connections.
func NewClient(apiKey string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxConnsPerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   defaultTimeout,
		},
		apiKey: apiKey,
	}
}

// SetEmbedRPM sets a smooth rate limit for embedding requests.
// rpm<=0 disables rate limiting.
func (c *Client) SetEmbedRPM(rpm int) {
	if c == nil {
		return
	}
	if rpm <= 0 {
		if c.embedLimiter != nil {
			c.embedLimiter.Close()
		}
		c.embedLimiter = nil
		return
	}
	if c.embedLimiter == nil {
		c.embedLimiter = ratelimit.NewLeakyBucketFromRPM(rpm)
		return
	}
	c.embedLimiter.SetRPM(rpm)
}

// SetChatRPM sets a smooth rate limit for chat completion requests.
// rpm<=0 disables rate limiting.
func (c *Client) SetChatRPM(rpm int) {
	if c == nil {
		return
	}
	if rpm <= 0 {
		if c.chatLimiter != nil {
			c.chatLimiter.Close()
		}
		c.chatLimiter = nil
		return
	}
	if c.chatLimiter == nil {
		c.chatLimiter = ratelimit.NewLeakyBucketFromRPM(rpm)
		return
	}
	c.chatLimiter.SetRPM(rpm)
}

func (c *Client) buildRequest(ctx context.Context, endpoint string, body []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/%s", baseURL, endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return req, nil
}

// APIError is the error body the OpenAI API returns.
type APIError struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       string `json:"code"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai API error %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

type errorEnvelope struct {
	Error *APIError `json:"error,omitempty"`
}

// EmbeddingsRequest for the embeddings API.
type EmbeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// EmbeddingsResponse from the embeddings API.
type EmbeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage *Usage `json:"usage,omitempty"`
}

// Usage contains token usage information from the API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest for the chat completions API.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatCompletionResponse from the chat completions API.
type ChatCompletionResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// Embed generates an embedding vector for one text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float64, error) {
	body, err := json.Marshal(EmbeddingsRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.do(ctx, "embeddings", body, c.embedLimiter)
	if err != nil {
		return nil, err
	}

	var result EmbeddingsResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	c.recordEmbedUsage(result.Usage)
	return result.Data[0].Embedding, nil
}

// ChatCompletion calls the chat completions API and returns the first
// choice's content.
func (c *Client) ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (string, *Usage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.do(ctx, "chat/completions", body, c.chatLimiter)
	if err != nil {
		return "", nil, err
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", nil, fmt.Errorf("no completion choices returned")
	}

	c.recordChatUsage(result.Usage)
	return result.Choices[0].Message.Content, result.Usage, nil
}

// do runs one request with retries on 429s and 5xx.
func (c *Client) do(ctx context.Context, endpoint string, body []byte, limiter *ratelimit.LeakyBucket) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if attempt > 0 {
			backoff := calculateBackoff(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		httpReq, err := c.buildRequest(ctx, endpoint, body)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode >= 400 {
			var envelope errorEnvelope
			if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error != nil {
				envelope.Error.StatusCode = resp.StatusCode
				return nil, envelope.Error
			}
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}

		return respBody, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func isRetryableStatus(code int) bool {
	return code == 429 || code >= 500
}

func calculateBackoff(attempt int) time.Duration {
	backoff := float64(initialBackoff) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(backoff + jitter)
}

// UsageStats contains accumulated usage statistics
type UsageStats struct {
	PromptTokens int64 `json:"prompt_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	EmbedTokens  int64 `json:"embed_tokens"`
	ChatCalls    int64 `json:"chat_calls"`
	EmbedCalls   int64 `json:"embed_calls"`
}

// GetUsageStats returns accumulated usage statistics.
func (c *Client) GetUsageStats() UsageStats {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()

	return UsageStats{
		PromptTokens: c.totalPromptTokens,
		OutputTokens: c.totalOutputTokens,
		EmbedTokens:  c.totalEmbedTokens,
		ChatCalls:    c.chatCalls,
		EmbedCalls:   c.embedCalls,
	}
}

func (c *Client) recordChatUsage(usage *Usage) {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	if usage != nil {
		c.totalPromptTokens += int64(usage.PromptTokens)
		c.totalOutputTokens += int64(usage.CompletionTokens)
	}
	c.chatCalls++
}

func (c *Client) recordEmbedUsage(usage *Usage) {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	if usage != nil {
		c.totalEmbedTokens += int64(usage.TotalTokens)
	}
	c.embedCalls++
}
