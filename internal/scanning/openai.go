package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAI implements Backend using the chat completions API. Any compatible
// server can be targeted through baseURL.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a new OpenAI backend
func NewOpenAI(apiKey, baseURL, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = "gpt-4o"
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Extract sends the receipt image as a data URL and parses the prediction
func (o *OpenAI) Extract(ctx context.Context, path string) (*Document, error) {
	imageData, err := loadImage(path)
	if err != nil {
		return nil, err
	}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageData)
	text, err := o.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: extractionPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	doc, err := parseDocumentJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt document: %w", err)
	}
	return doc, nil
}

// Classify sends the instruction under the given role followed by the document
func (o *OpenAI) Classify(ctx context.Context, role Role, instruction, document string) (string, error) {
	msgRole := openai.ChatMessageRoleSystem
	if role == RoleUser {
		msgRole = openai.ChatMessageRoleUser
	}
	return o.complete(ctx, []openai.ChatCompletionMessage{
		{Role: msgRole, Content: instruction},
		{Role: openai.ChatMessageRoleUser, Content: document},
	})
}

func (o *OpenAI) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("calling openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from openai")
	}
	return text, nil
}

// Close is a no-op for the HTTP client
func (o *OpenAI) Close() error {
	return nil
}
