// Package fakemodel provides a scripted eino chat model for tests.
package fakemodel

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var _ model.ToolCallingChatModel = (*Model)(nil)

// Model answers every Generate call with Reply. When ToolName is set the
// reply is a tool call carrying Arguments.
type Model struct {
	ToolName  string
	Arguments string
	Content   string
	Err       error

	mu    sync.Mutex
	calls [][]*schema.Message
}

func (m *Model) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, input)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	msg := &schema.Message{Role: schema.Assistant, Content: m.Content}
	if m.ToolName != "" {
		msg.ToolCalls = []schema.ToolCall{{
			ID:       "call_1",
			Function: schema.FunctionCall{Name: m.ToolName, Arguments: m.Arguments},
		}}
	}
	return msg, nil
}

func (m *Model) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("fakemodel: stream not supported")
}

func (m *Model) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// Calls returns how many times Generate ran.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastPrompt returns the messages of the most recent call.
func (m *Model) LastPrompt() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}
