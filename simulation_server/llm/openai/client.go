// Package openai implements the llm.Gateway over the OpenAI-compatible
// Responses API. Structured outputs are requested with a JSON schema and
// validated against the same schema before they are trusted.
package openai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avasek/townsim/simulation_server/llm"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
	"github.com/xeipuuv/gojsonschema"
)

type ClientOpt func(c *Client)

func WithAPIKey(key string) ClientOpt {
	return func(c *Client) { c.apiKey = key }
}

func WithBaseURL(url string) ClientOpt {
	return func(c *Client) { c.baseURL = url }
}

func WithModel(model string) ClientOpt {
	return func(c *Client) { c.model = parseModelID(model) }
}

func WithLogger(logger *slog.Logger) ClientOpt {
	return func(c *Client) { c.logger = logger }
}

func WithTimeout(d time.Duration) ClientOpt {
	return func(c *Client) { c.timeout = d }
}

// parseModelID strips the "provider[/subtype]/" prefix from a model string
// like "openai/chat/gpt-5-nano"; the provider routing is fixed to this
// client, only the trailing model id goes on the wire.
func parseModelID(model string) string {
	parts := strings.Split(model, "/")
	return parts[len(parts)-1]
}

// Client routes prompt dispatch to one configured provider endpoint.
type Client struct {
	client openai.Client
	logger *slog.Logger

	apiKey  string
	baseURL string
	model   string
	timeout time.Duration

	initialized bool
	llmSeq      atomic.Uint64
}

func New(opts ...ClientOpt) *Client {
	c := &Client{model: "gpt-5-nano", timeout: 60 * time.Second, logger: slog.Default()}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey != "" {
		openaiOpts := []option.RequestOption{option.WithAPIKey(c.apiKey)}
		if c.baseURL != "" {
			openaiOpts = append(openaiOpts, option.WithBaseURL(c.baseURL))
		}
		c.client = openai.NewClient(openaiOpts...)
		c.initialized = true
	}

	return c
}

func (c *Client) newID() string {
	return fmt.Sprintf("llm-%d", c.llmSeq.Add(1))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// GenerateText implements llm.Gateway.
func (c *Client) GenerateText(ctx context.Context, prompt, system string) (string, error) {
	if !c.initialized {
		return "", fmt.Errorf("llm client not initialized: missing API key")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := responses.ResponseNewParams{
		Model:     c.model,
		Reasoning: shared.ReasoningParam{Effort: "low"},
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(prompt),
		},
	}
	if system != "" {
		params.Instructions = param.NewOpt(system)
	}

	log := c.logger.With(
		slog.String("llm_id", c.newID()),
		slog.String("type", "llm_call"),
	)
	log.Info("llm_call_start",
		slog.String("phase", "start"),
		slog.String("prompt_hash", hashString(prompt)),
		slog.Int("prompt_length", len(prompt)),
	)

	start := time.Now()
	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		log.Error("llm_call_fail", "phase", "fail", "total_latency", time.Since(start), "err", err)
		return "", fmt.Errorf("could not execute prompt: %w", err)
	}

	log.Info("llm_call_ok", "phase", "ok", "total_latency", time.Since(start))
	return resp.OutputText(), nil
}

// GenerateObject implements llm.Gateway. The raw response is validated with
// the request schema; mismatches surface as schema errors so the caller's
// classifier maps them to LLM_INVALID_RESPONSE.
func (c *Client) GenerateObject(ctx context.Context, prompt, system string, schema llm.Schema, out any) error {
	if !c.initialized {
		return fmt.Errorf("llm client not initialized: missing API key")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := responses.ResponseNewParams{
		Model:     c.model,
		Reasoning: shared.ReasoningParam{Effort: "low"},
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(prompt),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigParamOfJSONSchema(schema.Name, schema.Schema),
		},
	}
	if system != "" {
		params.Instructions = param.NewOpt(system)
	}

	log := c.logger.With(
		slog.String("llm_id", c.newID()),
		slog.String("schema", schema.Name),
		slog.String("type", "llm_call"),
	)
	log.Info("llm_call_start",
		slog.String("phase", "start"),
		slog.String("prompt_hash", hashString(prompt)),
		slog.Int("prompt_length", len(prompt)),
	)

	start := time.Now()
	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		log.Error("llm_call_fail", "phase", "fail", "total_latency", time.Since(start), "err", err)
		return fmt.Errorf("could not execute prompt: %w", err)
	}

	raw := resp.OutputText()
	if err := validateAgainstSchema(raw, schema); err != nil {
		log.Warn("llm_call_invalid",
			"phase", "invalid",
			"response_hash", hashString(raw),
			"response_len", len(raw),
			"err", err,
		)
		return err
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.Warn("llm_call_invalid", "phase", "invalid", "err", err)
		return fmt.Errorf("could not parse structured output: %w", err)
	}

	log.Info("llm_call_ok", "phase", "ok", "total_latency", time.Since(start))
	return nil
}

func validateAgainstSchema(raw string, schema llm.Schema) error {
	schemaLoader := gojsonschema.NewGoLoader(schema.Schema)
	docLoader := gojsonschema.NewStringLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("could not parse structured output: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("structured output failed schema %s: %s", schema.Name, strings.Join(msgs, "; "))
	}
	return nil
}
