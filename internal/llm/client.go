package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go/v3"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const defaultSystemPrompt = `You are Capri, a friendly local voice assistant.
Answer briefly: your replies are spoken aloud, so keep them to a sentence
or two and avoid markdown, lists and code blocks.`

type Config struct {
	Model        string // empty = gpt-5-nano
	SystemPrompt string
}

// Client is a thin, stateless adapter over chat completions: the caller
// owns the history and passes it in on every call.
type Client struct {
	api    openai.Client
	model  openai.ChatModel
	system string
}

func NewClient(api openai.Client, cfg Config) *Client {
	model := openai.ChatModelGPT5Nano
	if cfg.Model != "" {
		model = openai.ChatModel(cfg.Model)
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	return &Client{api: api, model: model, system: system}
}

func (c *Client) Generate(ctx context.Context, prompt string, history []Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	msgs = append(msgs, openai.SystemMessage(c.system))
	for _, m := range history {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    c.model,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", errors.New("empty message content")
	}
	return content, nil
}
