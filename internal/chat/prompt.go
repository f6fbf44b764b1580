package chat

import (
	_ "embed"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/system_prompt.txt
var systemPrompt string

// Template variable keys.
const (
	varAssistantName = "AssistantName"
	varProduct       = "Product"
	varDocsURL       = "DocsURL"
	varAugmentation  = "Augmentation"
	varHistory       = "History"
	varMessage       = "Message"
)

// NewPromptTemplate returns the chat template: system instructions (with the
// optional augmentation block), the history window, then the new user message.
func NewPromptTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder(varHistory, true),
		schema.UserMessage("{{.Message}}"),
	)
}

// promptVars fills the scoping variables; the graph adds the rest per request.
func (c PromptConfig) promptVars() map[string]any {
	return map[string]any{
		varAssistantName: c.AssistantName,
		varProduct:       c.Product,
		varDocsURL:       c.DocsURL,
		varAugmentation:  "",
	}
}
