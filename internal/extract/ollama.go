package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veridoc/receipt-ocr-service/internal/models"
)

// Ollama extracts receipt data through a self-hosted Ollama endpoint. Vision
// mode attaches the image for models like llava or qwen2-vl; text mode sends
// OCR text and works with any instruct model.
type Ollama struct {
	baseURL  string
	model    string
	textMode bool
	client   *http.Client
}

// NewOllama creates the Ollama-backed provider.
func NewOllama(baseURL, model string, textMode bool) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llava"
	}
	return &Ollama{
		baseURL:  baseURL,
		model:    model,
		textMode: textMode,
		// Local vision models can be slow; the orchestrator's ctx still
		// bounds each call.
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *Ollama) Name() string    { return "ollama" }
func (p *Ollama) NeedsText() bool { return p.textMode }

// ollamaMessage carries images per message: /api/chat reads them from the
// message object, not the request root.
type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Parse posts one non-streaming chat request and decodes the JSON reply.
func (p *Ollama) Parse(ctx context.Context, image []byte, text string) (*models.ExtractionResult, error) {
	reqBody := ollamaChatRequest{
		Model:  p.model,
		Stream: false,
		Format: "json",
		Messages: []ollamaMessage{
			{Role: "system", Content: extractionPrompt},
		},
	}
	if p.textMode {
		reqBody.Messages = append(reqBody.Messages, ollamaMessage{
			Role: "user", Content: "Receipt OCR text:\n\n" + text,
		})
	} else {
		reqBody.Messages = append(reqBody.Messages, ollamaMessage{
			Role:    "user",
			Content: "Extract the data from this receipt image.",
			Images:  []string{base64.StdEncoding.EncodeToString(image)},
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling ollama request: %w", err)
	}

	url := p.baseURL + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderUnavailableError{Provider: p.Name(), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &ProviderUnavailableError{
			Provider: p.Name(),
			Cause:    fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, &ProviderUnavailableError{Provider: p.Name(), Cause: fmt.Errorf("decoding response: %w", err)}
	}

	result, err := decodeReply(p.Name(), chatResp.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("ollama reply: %w", err)
	}
	return result, nil
}
