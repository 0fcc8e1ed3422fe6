package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Backend using Google Gemini
type Gemini struct {
	client    *genai.Client
	modelName string
}

// NewGemini creates a new Gemini backend
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
	}, nil
}

// Extract sends the receipt image to Gemini and parses the structured prediction
func (g *Gemini) Extract(ctx context.Context, path string) (*Document, error) {
	imageData, err := loadImage(path)
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects the format suffix, not the full MIME type
	text, err := g.generate(ctx, g.model(""),
		genai.ImageData("png", imageData),
		genai.Text(extractionPrompt),
	)
	if err != nil {
		return nil, err
	}

	doc, err := parseDocumentJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt document: %w", err)
	}
	return doc, nil
}

// Classify asks Gemini a single question about the document. A system role
// instruction is sent as the model's system instruction; a user role
// instruction leads the prompt.
func (g *Gemini) Classify(ctx context.Context, role Role, instruction, document string) (string, error) {
	if role == RoleSystem {
		return g.generate(ctx, g.model(instruction), genai.Text(document))
	}
	return g.generate(ctx, g.model(""), genai.Text("Instruction: "+instruction), genai.Text(document))
}

// model returns a handle on the configured model, with an optional system instruction
func (g *Gemini) model(system string) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.modelName)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	return model
}

func (g *Gemini) generate(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	text := strings.TrimSpace(responseText.String())
	if text == "" {
		return "", fmt.Errorf("empty response from gemini")
	}
	return text, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
