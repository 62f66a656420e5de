package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/veridoc/receipt-ocr-service/internal/models"
)

// Gemini extracts receipt data with a Google Gemini vision model. Vision
// only: the normalized image goes straight to the model, no OCR involved.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates the Gemini-backed provider.
func NewGemini(apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini provider requires an api key")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

func (p *Gemini) Name() string    { return "gemini" }
func (p *Gemini) NeedsText() bool { return false }

// Parse sends the image plus the schema prompt and decodes the reply.
// genai.ImageData wants just the format suffix; normalized images are always
// JPEG.
func (p *Gemini) Parse(ctx context.Context, image []byte, _ string) (*models.ExtractionResult, error) {
	resp, err := p.model.GenerateContent(ctx,
		genai.ImageData("jpeg", image),
		genai.Text(extractionPrompt),
	)
	if err != nil {
		return nil, &ProviderUnavailableError{Provider: p.Name(), Cause: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &ProviderUnavailableError{Provider: p.Name(), Cause: errors.New("empty candidate response")}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	result, err := decodeReply(p.Name(), sb.String())
	if err != nil {
		return nil, fmt.Errorf("gemini reply: %w", err)
	}
	return result, nil
}

// Close releases the underlying client.
func (p *Gemini) Close() error {
	return p.client.Close()
}
