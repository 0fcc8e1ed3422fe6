package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama implements Backend using a local Ollama server.
// Vision models (llava, qwen2-vl) serve extraction; reasoning models such as
// deepseek-r1 prefix answers with a <think> block that callers must strip.
type Ollama struct {
	baseURL     string
	model       string
	visionModel string
	client      *http.Client
}

// NewOllama creates a new Ollama backend. visionModel defaults to model.
func NewOllama(baseURL, model, visionModel string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llava"
	}
	if visionModel == "" {
		visionModel = model
	}

	return &Ollama{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		visionModel: visionModel,
		client: &http.Client{
			Timeout: 120 * time.Second, // Vision models can be slow
		},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Extract sends the receipt image to the vision model and parses the prediction
func (o *Ollama) Extract(ctx context.Context, path string) (*Document, error) {
	imageData, err := loadImage(path)
	if err != nil {
		return nil, err
	}

	text, err := o.chat(ctx, o.visionModel, []ollamaMessage{
		{Role: "system", Content: extractionSystemPrompt},
		{
			Role:    "user",
			Content: extractionPrompt,
			Images:  []string{base64.StdEncoding.EncodeToString(imageData)},
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
func (o *Ollama) Classify(ctx context.Context, role Role, instruction, document string) (string, error) {
	return o.chat(ctx, o.model, []ollamaMessage{
		{Role: string(role), Content: instruction},
		{Role: "user", Content: document},
	})
}

func (o *Ollama) chat(ctx context.Context, model string, messages []ollamaMessage) (string, error) {
	jsonData, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	text := strings.TrimSpace(chatResp.Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return text, nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
