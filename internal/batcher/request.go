package batcher

import (
	"encoding/json"
	"fmt"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatBody struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type requestLine struct {
	CustomID string   `json:"custom_id"`
	Method   string   `json:"method"`
	URL      string   `json:"url"`
	Body     chatBody `json:"body"`
}

// RequestLine renders one chat-completion request in the bulk service's
// line format. customID ties the eventual result record back to the
// catalog entry.
func RequestLine(customID, model, systemPrompt, userContent string, maxTokens int) ([]byte, error) {
	line, err := json.Marshal(requestLine{
		CustomID: customID,
		Method:   "POST",
		URL:      "/v1/chat/completions",
		Body: chatBody{
			Model: model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userContent},
			},
			MaxTokens: maxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request line: %w", err)
	}
	return line, nil
}
