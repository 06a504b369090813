package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/jobfill/types"
)

// LocalPrompter renders a fixed English template.
type LocalPrompter struct{}

func (LocalPrompter) BuildPrompt(ctx context.Context, req *PromptRequest) (string, error) {
	field := req.Field
	name := field.Label
	if name == "" {
		name = field.ID
	}
	var sb strings.Builder
	if req.PriorAttempts > 0 {
		sb.WriteString(fmt.Sprintf("We could not fill %q", name))
		if req.LastError != "" {
			sb.WriteString(" (" + req.LastError + ")")
		}
		sb.WriteString(". ")
	}
	sb.WriteString(fmt.Sprintf("Please provide a value for %q", name))
	if field.Required {
		sb.WriteString(", it is required")
	}
	sb.WriteString(".")
	switch {
	case field.HTMLType.HasOptions() && len(field.Options) > 0:
		sb.WriteString(" Choose one of:")
		for i, opt := range field.Options {
			sb.WriteString(fmt.Sprintf(" %d) %s", i+1, opt))
		}
		sb.WriteString(".")
	case field.HTMLType == types.HTMLCheckbox:
		sb.WriteString(" Answer yes or no.")
	case field.HTMLType == types.HTMLFile:
		sb.WriteString(" Give the path of the file to upload.")
	case field.HTMLType == types.HTMLDate:
		sb.WriteString(" Use YYYY-MM-DD.")
	}
	sb.WriteString(" Reply \"skip\" to leave it empty.")
	return sb.String(), nil
}

// DefaultPromptSystemPromptTemplate may contain a single "%s" placeholder for the language.
const DefaultPromptSystemPromptTemplate = `You help a person finish a job application form.

Write exactly one short question asking for the value of the field described below.
- Mention whether the field is required.
- If the field has options, list them so the person can pick one.
- If an earlier value failed, say so briefly and ask for a corrected one.
- Tell the person they can reply "skip" to leave the field empty.
- No greetings, no lists, one or two sentences.
- Reply in %s.
`

type promptOptions struct {
	lang                 string
	systemPromptTemplate string
}

type PrompterOption func(*promptOptions)

func WithPromptLang(lang string) PrompterOption {
	return func(o *promptOptions) {
		o.lang = lang
	}
}

func WithPromptSystemPromptTemplate(tmpl string) PrompterOption {
	return func(o *promptOptions) {
		o.systemPromptTemplate = tmpl
	}
}

// ToolBasedPrompter lets a chat model phrase the question.
type ToolBasedPrompter struct {
	systemPrompt string
	chatModel    model.ToolCallingChatModel
}

func NewToolBasedPrompter(chatModel model.ToolCallingChatModel, opts ...PrompterOption) *ToolBasedPrompter {
	options := promptOptions{
		lang:                 "English",
		systemPromptTemplate: DefaultPromptSystemPromptTemplate,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	systemPrompt := options.systemPromptTemplate
	if strings.Contains(systemPrompt, "%s") {
		systemPrompt = fmt.Sprintf(systemPrompt, options.lang)
	}
	return &ToolBasedPrompter{systemPrompt: systemPrompt, chatModel: chatModel}
}

func (p *ToolBasedPrompter) BuildPrompt(ctx context.Context, req *PromptRequest) (string, error) {
	var sb strings.Builder
	sb.WriteString(types.FormatField(req.Field))
	if req.PriorAttempts > 0 {
		sb.WriteString(fmt.Sprintf("\nPrevious attempts: %d", req.PriorAttempts))
		if req.LastError != "" {
			sb.WriteString(fmt.Sprintf("\nLast error: %s", req.LastError))
		}
	}
	response, err := p.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(p.systemPrompt),
		schema.UserMessage(sb.String()),
	})
	if err != nil {
		return "", fmt.Errorf("LLM call failed: %w", err)
	}
	text := strings.TrimSpace(response.Content)
	if text == "" {
		return "", errors.New("LLM returned an empty question")
	}
	return text, nil
}

// FailbackPrompter returns the first prompt any of its prompters builds.
type FailbackPrompter struct {
	prompters []Prompter
}

func NewFailbackPrompter(prompters ...Prompter) *FailbackPrompter {
	return &FailbackPrompter{prompters: prompters}
}

func (p *FailbackPrompter) BuildPrompt(ctx context.Context, req *PromptRequest) (string, error) {
	lastErr := errors.New("no prompter configured")
	for _, prompter := range p.prompters {
		prompt, err := prompter.BuildPrompt(ctx, req)
		if err == nil {
			return prompt, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("all prompters failed: %w", lastErr)
}
