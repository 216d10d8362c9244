package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/bugflow/internal/models"
)

// LLM asks an Anthropic model for the priority and falls back to Keywords
// whenever the call or its answer is unusable.
type LLM struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewLLM creates a classifier with the given API key and model.
func NewLLM(apiKey, model string, opts ...option.RequestOption) *LLM {
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	client := anthropic.NewClient(opts...)
	return &LLM{
		api:   &client,
		model: anthropic.Model(model),
	}
}

func buildPrompt(title, description string) (system string, user string) {
	system = `You triage bug reports. Reply with exactly one word, the priority of the bug:
- "Critical": crashes, data loss, the application or a core flow is unusable
- "High": a main feature is broken or errors for many users, no workaround
- "Medium": degraded behaviour with a workaround, slowness, minor functional bugs
- "Low": cosmetic issues, typos, alignment and styling

Reply with the word only, no punctuation or explanation.`

	var sb strings.Builder
	sb.WriteString("Title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// parsePriority finds the first priority word in the model's reply.
func parsePriority(text string) (models.Priority, bool) {
	for _, f := range strings.Fields(text) {
		if p, ok := models.ParsePriority(strings.Trim(f, `."'*:,`)); ok {
			return p, true
		}
	}
	return "", false
}

// Classify never fails; errors are logged and the keyword rules answer instead.
func (c *LLM) Classify(ctx context.Context, title, description string) (models.Priority, error) {
	p, err := c.ask(ctx, title, description)
	if err != nil {
		slog.Warn("llm priority classification failed, using keywords", "error", err)
		return Keywords(title, description), nil
	}
	return p, nil
}

func (c *LLM) ask(ctx context.Context, title, description string) (models.Priority, error) {
	systemPrompt, userPrompt := buildPrompt(title, description)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 16,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}

	p, ok := parsePriority(text)
	if !ok {
		return "", fmt.Errorf("unrecognised priority in response: %q", text)
	}
	return p, nil
}
