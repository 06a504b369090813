package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/jobfill/types"
)

var _ adk.Agent = (*Agent)(nil)

// Agent exposes the orchestrator as an adk agent. The last input message is
// the form URL; the reply is the markdown run summary.
type Agent struct {
	name         string
	description  string
	orchestrator *Orchestrator
}

func NewAgent(name, description string, orchestrator *Orchestrator) *Agent {
	return &Agent{
		name:         name,
		description:  description,
		orchestrator: orchestrator,
	}
}

func (a *Agent) Name(ctx context.Context) string {
	return a.name
}

func (a *Agent) Description(ctx context.Context) string {
	return a.description
}

func (a *Agent) Run(ctx context.Context, input *adk.AgentInput, options ...adk.AgentRunOption) *adk.AsyncIterator[*adk.AgentEvent] {
	iter, gen := adk.NewAsyncIteratorPair[*adk.AgentEvent]()
	go func() {
		defer func() {
			e := recover()
			if e != nil {
				gen.Send(&adk.AgentEvent{
					Err: fmt.Errorf("recover from panic: %v", e),
				})
			}
			gen.Close()
		}()
		if len(input.Messages) == 0 {
			gen.Send(&adk.AgentEvent{
				Err: fmt.Errorf("no messages in input"),
			})
			return
		}
		url := strings.TrimSpace(input.Messages[len(input.Messages)-1].Content)
		if url == "" {
			gen.Send(&adk.AgentEvent{
				Err: fmt.Errorf("empty form url"),
			})
			return
		}
		report, err := a.orchestrator.Run(ctx, url)
		if report != nil {
			gen.Send(&adk.AgentEvent{
				Output: &adk.AgentOutput{
					MessageOutput: &adk.MessageVariant{
						IsStreaming: false,
						Message: &schema.Message{
							Role:    schema.Assistant,
							Content: types.FormatResult(report.Result),
						},
						Role: schema.Assistant,
					},
				},
			})
		}
		if err != nil {
			gen.Send(&adk.AgentEvent{
				Err: fmt.Errorf("run failed: %w", err),
			})
		}
	}()
	return iter
}
