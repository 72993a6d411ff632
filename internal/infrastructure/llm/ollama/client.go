package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emad-noorizadeh/eval-rag/internal/core/ports"
	"github.com/emad-noorizadeh/eval-rag/internal/infrastructure/resilience"
)

// CallRecorder receives one observation per backend call; the metrics
// registry satisfies it.
type CallRecorder interface {
	RecordLLMCall(service, operation string, err error)
}

// Client implements the LLM collaborator contract: embed and chat. Each call
// gets its own per-call timeout; transport failures retry once through the
// resilience executor, timeouts never do.
type Client struct {
	baseURL     string
	genModel    string
	embedModel  string
	callTimeout time.Duration
	httpClient  *http.Client
	executor    *resilience.Executor
	recorder    CallRecorder
}

func New(baseURL, genModel, embedModel string, callTimeout time.Duration, executor *resilience.Executor, recorder CallRecorder) *Client {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		genModel:    genModel,
		embedModel:  embedModel,
		callTimeout: callTimeout,
		// The HTTP client carries no timeout of its own; cancellation flows
		// through the per-call context so callers can pull the plug early.
		httpClient: &http.Client{},
		executor:   executor,
		recorder:   recorder,
	}
}

func (c *Client) record(operation string, err error) {
	if c.recorder != nil {
		c.recorder.RecordLLMCall("api", operation, err)
	}
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": c.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := c.executor.Execute(ctx, "embed", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		return c.postJSON(callCtx, "/api/embed", request, &response, "embed")
	}, classifyError)
	c.record("embed", err)
	if err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return response.Embeddings[0], nil
}

func (c *Client) Chat(ctx context.Context, system, user string, opts ports.ChatOptions) (string, error) {
	messages := []map[string]string{}
	if system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": user})

	request := map[string]any{
		"model":    c.genModel,
		"messages": messages,
		"stream":   false,
	}
	options := map[string]any{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if len(options) > 0 {
		request["options"] = options
	}
	if opts.JSONMode {
		request["format"] = "json"
	}

	var response struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	err := c.executor.Execute(ctx, "chat", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		return c.postJSON(callCtx, "/api/chat", request, &response, "chat")
	}, classifyError)
	c.record("chat", err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Message.Content), nil
}
