package chat

import "time"

// ================ Config ================
type Config struct {
	MaxMessageChars    int           `envconfig:"CHAT_MAX_MESSAGE_CHARS" default:"2000"`
	HistoryWindow      int           `envconfig:"CHAT_HISTORY_WINDOW" default:"10"`
	HealthProbeTimeout time.Duration `envconfig:"HEALTH_PROBE_TIMEOUT" default:"2s"`
}

type PromptConfig struct {
	AssistantName string `envconfig:"PROMPT_ASSISTANT_NAME" default:"Cloudflare Agents Documentation Assistant"`
	Product       string `envconfig:"PROMPT_PRODUCT" default:"Cloudflare Agents SDK"`
	DocsURL       string `envconfig:"PROMPT_DOCS_URL" default:"https://developers.cloudflare.com/agents/"`
}

// DefaultConfig mirrors the envconfig defaults.
func DefaultConfig() Config {
	return Config{MaxMessageChars: 2000, HistoryWindow: 10, HealthProbeTimeout: 2 * time.Second}
}

func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		AssistantName: "Cloudflare Agents Documentation Assistant",
		Product:       "Cloudflare Agents SDK",
		DocsURL:       "https://developers.cloudflare.com/agents/",
	}
}
