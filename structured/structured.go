// Package structured forces a chat model to answer through a single tool call
// and decodes the call arguments into a Go value.
package structured

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

var ErrNoToolCall = errors.New("no tool call in model response")

type PromptBuilder[TInput any] func(ctx context.Context, input TInput) ([]*schema.Message, error)

type Chain[TInput, TOutput any] struct {
	PromptBuilder PromptBuilder[TInput]
	ChatModel     model.ToolCallingChatModel
	ToolInfo      *schema.ToolInfo
	modelOptions  []model.Option
}

type Option func(*chainOptions)

type chainOptions struct {
	modelOptions []model.Option
}

// WithModelOptions appends options passed on every Generate call, e.g. a fixed
// temperature for callers that need stable answers.
func WithModelOptions(opts ...model.Option) Option {
	return func(o *chainOptions) {
		o.modelOptions = append(o.modelOptions, opts...)
	}
}

func NewChain[TInput, TOutput any](
	chatModel model.ToolCallingChatModel,
	promptBuilder PromptBuilder[TInput],
	toolName string,
	toolDesc string,
	opts ...Option,
) (*Chain[TInput, TOutput], error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	toolInfo, err := utils.GoStruct2ToolInfo[TOutput](toolName, toolDesc)
	if err != nil {
		return nil, fmt.Errorf("convert tool info failed: %w", err)
	}
	var o chainOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Chain[TInput, TOutput]{
		PromptBuilder: promptBuilder,
		ChatModel:     chatModel,
		ToolInfo:      toolInfo,
		modelOptions:  o.modelOptions,
	}, nil
}

func (s *Chain[TInput, TOutput]) Invoke(ctx context.Context, input TInput) (*TOutput, error) {
	messages, err := s.PromptBuilder(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("build prompt failed: %w", err)
	}

	opts := append([]model.Option{
		model.WithTools([]*schema.ToolInfo{s.ToolInfo}),
		model.WithToolChoice(schema.ToolChoiceForced, s.ToolInfo.Name),
	}, s.modelOptions...)
	response, err := s.ChatModel.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("call model failed: %w", err)
	}
	return decodeToolCall[TOutput](response, s.ToolInfo.Name)
}

func decodeToolCall[TOutput any](msg *schema.Message, toolName string) (*TOutput, error) {
	if msg == nil || len(msg.ToolCalls) == 0 {
		content := ""
		if msg != nil {
			content = msg.Content
		}
		return nil, fmt.Errorf("%w: %s", ErrNoToolCall, content)
	}
	call := msg.ToolCalls[0]
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == toolName {
			call = tc
			break
		}
	}
	var result TOutput
	if err := sonic.UnmarshalString(call.Function.Arguments, &result); err != nil {
		return nil, fmt.Errorf("parse ToolCall arguments failed: %w", err)
	}
	return &result, nil
}

func (s *Chain[TInput, TOutput]) GetToolInfo() *schema.ToolInfo {
	return s.ToolInfo
}
