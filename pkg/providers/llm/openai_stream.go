// Package llm implements the gateway's streaming chat-completions driver.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lokutor-ai/lokutor-gateway/pkg/gateway"
)

// StreamingConfig configures an OpenAI-compatible chat-completions driver
// with stream=true (§4.4). The same struct serves any OpenAI-compatible
// endpoint (OpenAI itself, or — per the reference system this gateway
// descends from — Qwen/DashScope's compatible-mode endpoint).
type StreamingConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	Temperature   float64
	MaxTokens     int
	TopP          float64
	EnableSearch  bool
}

// StreamingChatLLM is the streaming OpenAI-compatible chat driver.
type StreamingChatLLM struct {
	cfg StreamingConfig
}

func NewStreamingChatLLM(cfg StreamingConfig) *StreamingChatLLM {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	return &StreamingChatLLM{cfg: cfg}
}

func (l *StreamingChatLLM) Name() string { return "openai-compatible-stream" }

// ChatStream opens an SSE chat-completions stream and forwards each delta
// as it arrives. History is passed through verbatim, already trimmed by the
// orchestrator to the dialog-history bound (§4.4).
func (l *StreamingChatLLM) ChatStream(ctx context.Context, userText string, history []gateway.Message) (<-chan string, <-chan error, error) {
	messages := make([]map[string]string, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userText})

	payload := map[string]interface{}{
		"model":       l.cfg.Model,
		"messages":    messages,
		"stream":      true,
		"temperature": l.cfg.Temperature,
		"top_p":       l.cfg.TopP,
	}
	if l.cfg.MaxTokens > 0 {
		payload["max_tokens"] = l.cfg.MaxTokens
	}
	if l.cfg.EnableSearch {
		payload["enable_search"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, gateway.NewError(gateway.KindInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, gateway.NewError(gateway.KindInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, gateway.NewError(gateway.KindUpstreamTransient, fmt.Errorf("llm request: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var errBody interface{}
		json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, nil, gateway.NewError(gateway.KindUpstreamProtocol, fmt.Errorf("llm error (status %d): %v", resp.StatusCode, errBody))
	}

	tokens := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer resp.Body.Close()
		defer close(tokens)
		defer close(errs)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					select {
					case tokens <- choice.Delta.Content:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case errs <- gateway.NewError(gateway.KindUpstreamTransient, err):
			default:
			}
		}
	}()

	return tokens, errs, nil
}
