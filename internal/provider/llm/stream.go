package llm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxEventBytes = 1 << 20

type streamChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"delta"`
		// Some servers send the full message on the final event.
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		Cost *float64 `json:"cost"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		Cost *float64 `json:"cost"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// readEventStream consumes a server-sent event body. The returned bool reports
// whether any content reached the sink, after which the request cannot be retried.
func readEventStream(body io.Reader, sink chunkSink) (completion, bool, error) {
	var (
		result    completion
		text      strings.Builder
		delivered bool
	)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var event streamChunk
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return result, delivered, fmt.Errorf("llm stream: decode event: %w", err)
		}
		if event.Error != nil {
			return result, delivered, fmt.Errorf("llm stream: api error: %s", strings.TrimSpace(event.Error.Message))
		}
		if result.ID == "" && event.ID != "" {
			result.ID = event.ID
			sink.token(event.ID)
		}
		for _, choice := range event.Choices {
			content := choice.Delta.Content
			if content == "" && text.Len() == 0 {
				content = choice.Message.Content
			}
			if content != "" {
				text.WriteString(content)
				sink.chunk(content)
				delivered = true
			}
			if choice.Delta.Refusal != "" {
				result.Refusal = choice.Delta.Refusal
			}
			if choice.FinishReason != "" {
				result.FinishReason = choice.FinishReason
			}
		}
		if event.Usage != nil && event.Usage.Cost != nil {
			cost := *event.Usage.Cost
			result.Cost = &cost
		}
	}
	if err := scanner.Err(); err != nil {
		return result, delivered, fmt.Errorf("llm stream: read body: %w", err)
	}
	result.Text = text.String()
	return result, delivered, nil
}

// decodeSingle handles servers that answer a streamed request with a plain JSON body.
func decodeSingle(body io.Reader, sink chunkSink) (completion, bool, error) {
	var resp chatCompletionResponse
	if err := json.NewDecoder(io.LimitReader(body, maxEventBytes*8)).Decode(&resp); err != nil {
		return completion{}, false, fmt.Errorf("llm request: decode response: %w", err)
	}
	if resp.Error != nil {
		return completion{}, false, fmt.Errorf("llm request: api error: %s", strings.TrimSpace(resp.Error.Message))
	}
	if len(resp.Choices) == 0 {
		return completion{}, false, errors.New("llm request: empty choices")
	}
	result := completion{ID: resp.ID}
	for _, choice := range resp.Choices {
		if result.FinishReason == "" {
			result.FinishReason = choice.FinishReason
		}
		if result.Refusal == "" {
			result.Refusal = choice.Message.Refusal
		}
		if result.Text == "" {
			result.Text = firstNonEmpty(choice.Message.Content, choice.Text)
		}
	}
	if resp.Usage != nil && resp.Usage.Cost != nil {
		cost := *resp.Usage.Cost
		result.Cost = &cost
	}
	if result.ID != "" {
		sink.token(result.ID)
	}
	if result.Text == "" {
		return result, false, nil
	}
	sink.chunk(result.Text)
	return result, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	clean := strings.Join(strings.Fields(string(data)), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	if clean == "" {
		return "<empty>"
	}
	return clean
}
