package inference

// ================ Config ================
type ClientConfig struct {
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`
}

type Config struct {
	Model            string  `envconfig:"INFERENCE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens        int     `envconfig:"INFERENCE_MAX_TOKENS" default:"1024"`
	Temperature      float32 `envconfig:"INFERENCE_TEMPERATURE" default:"0.7"`
	PricePerThousand float64 `envconfig:"INFERENCE_PRICE_PER_THOUSAND" default:"0.002"`
}
