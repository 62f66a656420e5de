package models

// Config represents the service configuration, loaded from YAML with
// environment overrides applied in cmd/server.
type Config struct {
	// Server config
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	// Image normalization
	Image ImageConfig `yaml:"image"`

	// OCR config
	OCR OCRConfig `yaml:"ocr"`

	// AI provider config
	AI AIConfig `yaml:"ai"`

	// Worker pool config
	Worker WorkerConfig `yaml:"worker"`
}

// ImageConfig bounds the normalizer's inputs and output.
type ImageConfig struct {
	MaxUploadMB  int      `yaml:"max_upload_mb"`  // request-layer cap, default 10
	MaxEdge      int      `yaml:"max_edge"`       // longest output edge in px, default 2000
	AllowedMIMEs []string `yaml:"allowed_mimes"`  // upload whitelist
	JPEGQuality  int      `yaml:"jpeg_quality"`   // canonical re-encode quality, default 95
}

// OCRConfig represents OCR-specific configuration.
type OCRConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Language       string `yaml:"language"`        // default "eng"
	TimeoutSeconds int    `yaml:"timeout_seconds"` // default 30
}

// AIConfig represents AI provider configuration.
type AIConfig struct {
	// OpenAI
	OpenAI OpenAIConfig `yaml:"openai"`

	// Gemini
	Gemini GeminiConfig `yaml:"gemini"`

	// Ollama (local)
	Ollama OllamaConfig `yaml:"ollama"`

	// Provider selected at startup: "openai", "gemini", "ollama" or
	// "fallback". Never switched per request.
	Provider string `yaml:"provider"`

	// Mode is "vision" (send the image) or "text" (send OCR text).
	// Gemini is vision-only and the fallback is text-only; the setting
	// applies to providers that support both.
	Mode string `yaml:"mode"`

	TimeoutSeconds int `yaml:"timeout_seconds"` // per provider call, default 60
}

// OpenAIConfig for OpenAI/Azure OpenAI.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints
	Model   string `yaml:"model"`              // Default: "gpt-4o-mini"
}

// GeminiConfig for Google Gemini.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"` // Default: "gemini-1.5-flash"
}

// OllamaConfig for local Ollama.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"` // Default: "http://localhost:11434"
	Model   string `yaml:"model"`    // e.g., "llava", "qwen2-vl"
}

// WorkerConfig bounds job concurrency.
type WorkerConfig struct {
	Count             int `yaml:"count"`               // concurrency slots, default 4
	QueueSize         int `yaml:"queue_size"`          // buffered backlog, default 256
	JobTimeoutSeconds int `yaml:"job_timeout_seconds"` // whole-job bound, default 180
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Image.MaxUploadMB == 0 {
		c.Image.MaxUploadMB = 10
	}
	if c.Image.MaxEdge == 0 {
		c.Image.MaxEdge = 2000
	}
	if c.Image.JPEGQuality == 0 {
		c.Image.JPEGQuality = 95
	}
	if len(c.Image.AllowedMIMEs) == 0 {
		c.Image.AllowedMIMEs = []string{"image/jpeg", "image/png", "image/webp"}
	}
	if c.OCR.Language == "" {
		c.OCR.Language = "eng"
	}
	if c.OCR.TimeoutSeconds == 0 {
		c.OCR.TimeoutSeconds = 30
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "fallback"
	}
	if c.AI.Mode == "" {
		c.AI.Mode = "vision"
	}
	if c.AI.TimeoutSeconds == 0 {
		c.AI.TimeoutSeconds = 60
	}
	if c.AI.OpenAI.Model == "" {
		c.AI.OpenAI.Model = "gpt-4o-mini"
	}
	if c.AI.Gemini.Model == "" {
		c.AI.Gemini.Model = "gemini-1.5-flash"
	}
	if c.AI.Ollama.BaseURL == "" {
		c.AI.Ollama.BaseURL = "http://localhost:11434"
	}
	if c.AI.Ollama.Model == "" {
		c.AI.Ollama.Model = "llava"
	}
	if c.Worker.Count == 0 {
		c.Worker.Count = 4
	}
	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = 256
	}
	if c.Worker.JobTimeoutSeconds == 0 {
		c.Worker.JobTimeoutSeconds = 180
	}
}
