package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/knearme/showcase/internal/errors"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
	defaultModel        = "claude-sonnet-4-5"
)

// AnthropicProvider implements LLMProvider using the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey    string
	model     string
	maxTokens int
	baseURL   string
	client    *http.Client
	logger    zerolog.Logger
}

// AnthropicOption configures the provider.
type AnthropicOption func(*AnthropicProvider)

func WithModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if model != "" {
			p.model = model
		}
	}
}

func WithMaxTokens(n int) AnthropicOption {
	return func(p *AnthropicProvider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(p *AnthropicProvider) { p.client = c }
}

func WithBaseURL(u string) AnthropicOption {
	return func(p *AnthropicProvider) { p.baseURL = strings.TrimSuffix(u, "/") }
}

func WithLogger(l zerolog.Logger) AnthropicOption {
	return func(p *AnthropicProvider) { p.logger = l }
}

// NewAnthropicProvider constructs a new Anthropic provider.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:    apiKey,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		baseURL:   anthropicAPIBase,
		client:    &http.Client{Timeout: 120 * time.Second},
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *AnthropicProvider) ModelID() string { return p.model }
func (p *AnthropicProvider) MaxTokens() int  { return p.maxTokens }

// ---- Anthropic wire types ----

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []contentBlock
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
	Error      *anthropicError         `json:"error,omitempty"`
}

// anthropicStreamEvent is the union of SSE event payloads the stream emits.
type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
	Error *anthropicError `json:"error,omitempty"`
}

// buildMessages converts []Message to []anthropicMessage, handling tool use
// and tool results as content blocks.
func buildMessages(msgs []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.ToolResult != nil:
			// Tool results are user messages with content blocks
			block := map[string]interface{}{
				"type":        "tool_result",
				"tool_use_id": m.ToolResult.ToolUseID,
				"content":     m.ToolResult.Content,
			}
			if m.ToolResult.IsError {
				block["is_error"] = true
			}
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: []interface{}{block},
			})
		case m.ToolUse != nil:
			// Assistant turn that requested a tool
			blocks := []interface{}{}
			if m.Content != "" {
				blocks = append(blocks, map[string]interface{}{"type": "text", "text": m.Content})
			}
			blocks = append(blocks, map[string]interface{}{
				"type":  "tool_use",
				"id":    m.ToolUse.ID,
				"name":  m.ToolUse.Name,
				"input": m.ToolUse.Input,
			})
			out = append(out, anthropicMessage{Role: RoleAssistant, Content: blocks})
		default:
			out = append(out, anthropicMessage{
				Role:    m.Role,
				Content: m.Content,
			})
		}
	}
	return out
}

func (p *AnthropicProvider) buildRequest(req CompletionRequest, stream bool) anthropicRequest {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTok := p.maxTokens
	if req.MaxTokens > 0 {
		maxTok = req.MaxTokens
	}

	ar := anthropicRequest{
		Model:     model,
		MaxTokens: maxTok,
		System:    req.SystemPrompt,
		Messages:  buildMessages(req.Messages),
		Stream:    stream,
	}
	for _, t := range req.Tools {
		ar.Tools = append(ar.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return ar
}

func (p *AnthropicProvider) doRequest(ctx context.Context, ar anthropicRequest) (*http.Response, error) {
	body, err := json.Marshal(ar)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	return p.client.Do(httpReq)
}

// apiError turns a non-200 response into a typed upstream error.
func (p *AnthropicProvider) apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error *anthropicError `json:"error"`
	}
	msg := http.StatusText(resp.StatusCode)
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != nil {
		msg = body.Error.Message
	}
	return apperrors.NewUpstreamError("anthropic", resp.StatusCode, msg)
}

// Complete sends a blocking completion request.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ar := p.buildRequest(req, false)
	resp, err := p.doRequest(ctx, ar)
	if err != nil {
		return nil, fmt.Errorf("anthropic http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var ar2 anthropicResponse
	if err := json.Unmarshal(raw, &ar2); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if ar2.Error != nil {
		return nil, apperrors.NewUpstreamError("anthropic", resp.StatusCode, ar2.Error.Message)
	}

	out := &CompletionResponse{
		StopReason:   ar2.StopReason,
		InputTokens:  ar2.Usage.InputTokens,
		OutputTokens: ar2.Usage.OutputTokens,
	}

	for _, block := range ar2.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			out.ToolUse = &ToolUse{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			}
		}
	}

	p.logger.Debug().
		Str("model", ar.Model).
		Str("stop_reason", out.StopReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("anthropic complete")
	return out, nil
}

// Stream sends a completion request and streams parsed chunks to out. Text
// and tool-use input arrive incrementally; the channel is closed when the
// stream ends.
func (p *AnthropicProvider) Stream(ctx context.Context, req CompletionRequest, out chan<- Chunk) error {
	ar := p.buildRequest(req, true)
	resp, err := p.doRequest(ctx, ar)
	if err != nil {
		return fmt.Errorf("anthropic stream http: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return p.apiError(resp)
	}

	go func() {
		defer resp.Body.Close()
		defer close(out)

		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			tool         *ToolUse
			inputBuf     strings.Builder
			stopReason   string
			inputTokens  int
			outputTokens int
		)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var ev anthropicStreamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}

			switch ev.Type {
			case "message_start":
				if ev.Message != nil {
					inputTokens = ev.Message.Usage.InputTokens
				}

			case "content_block_start":
				if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
					tool = &ToolUse{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
					inputBuf.Reset()
					if !send(Chunk{Kind: ChunkToolUseStart, ToolUse: &ToolUse{ID: tool.ID, Name: tool.Name}}) {
						return
					}
				}

			case "content_block_delta":
				if ev.Delta == nil {
					continue
				}
				switch ev.Delta.Type {
				case "text_delta":
					if !send(Chunk{Kind: ChunkText, Text: ev.Delta.Text}) {
						return
					}
				case "input_json_delta":
					inputBuf.WriteString(ev.Delta.PartialJSON)
					if !send(Chunk{Kind: ChunkToolInputDelta, InputDelta: ev.Delta.PartialJSON}) {
						return
					}
				}

			case "content_block_stop":
				if tool != nil {
					input := inputBuf.String()
					if input == "" {
						input = "{}"
					}
					tool.Input = json.RawMessage(input)
					if !send(Chunk{Kind: ChunkToolUseStop, ToolUse: tool}) {
						return
					}
					tool = nil
				}

			case "message_delta":
				if ev.Delta != nil && ev.Delta.StopReason != "" {
					stopReason = ev.Delta.StopReason
				}
				if ev.Usage != nil {
					outputTokens = ev.Usage.OutputTokens
				}

			case "message_stop":
				send(Chunk{Kind: ChunkDone, StopReason: stopReason, InputTokens: inputTokens, OutputTokens: outputTokens})
				return

			case "error":
				msg := "stream error"
				if ev.Error != nil {
					msg = ev.Error.Message
				}
				send(Chunk{Kind: ChunkError, Err: apperrors.NewUpstreamError("anthropic", resp.StatusCode, msg)})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(Chunk{Kind: ChunkError, Err: err})
		}
	}()

	return nil
}
