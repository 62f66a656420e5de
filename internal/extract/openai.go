package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/veridoc/receipt-ocr-service/internal/models"
)

// OpenAI extracts receipt data through the OpenAI chat completions API, in
// vision mode (image part) or text mode (OCR text). A custom BaseURL lets the
// same client talk to Azure OpenAI or OpenAI-compatible proxies.
type OpenAI struct {
	client   *openai.Client
	model    string
	textMode bool
}

// NewOpenAI creates the OpenAI-backed provider.
func NewOpenAI(apiKey, baseURL, model string, textMode bool) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		textMode: textMode,
	}
}

func (p *OpenAI) Name() string    { return "openai" }
func (p *OpenAI) NeedsText() bool { return p.textMode }

// Parse sends one chat completion request and decodes the strict-JSON reply.
func (p *OpenAI) Parse(ctx context.Context, image []byte, text string) (*models.ExtractionResult, error) {
	var userMsg openai.ChatCompletionMessage
	if p.textMode {
		userMsg = openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: "Receipt OCR text:\n\n" + text,
		}
	} else {
		dataURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
		userMsg = openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: "Extract the data from this receipt image."},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURI,
						Detail: openai.ImageURLDetailAuto,
					},
				},
			},
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionPrompt},
			userMsg,
		},
	})
	if err != nil {
		return nil, &ProviderUnavailableError{Provider: p.Name(), Cause: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderUnavailableError{
			Provider: p.Name(),
			Cause:    errors.New("empty choices in completion response"),
		}
	}

	result, err := decodeReply(p.Name(), resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("openai reply: %w", err)
	}
	return result, nil
}
