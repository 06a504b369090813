package feedback

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// TerminalChannel asks on a writer and reads one line per answer.
type TerminalChannel struct {
	out io.Writer
	in  *bufio.Reader

	once  sync.Once
	lines chan lineResult
}

type lineResult struct {
	text string
	err  error
}

func NewTerminalChannel(in io.Reader, out io.Writer) *TerminalChannel {
	return &TerminalChannel{in: bufio.NewReader(in), out: out}
}

// readLoop feeds lines to Ask. A line typed after a question timed out
// answers the next question.
func (c *TerminalChannel) readLoop() {
	for {
		line, err := c.in.ReadString('\n')
		if line != "" || err == nil {
			c.lines <- lineResult{text: line}
		}
		if err != nil {
			c.lines <- lineResult{err: err}
			close(c.lines)
			return
		}
	}
}

func (c *TerminalChannel) Ask(ctx context.Context, q Question) (Answer, error) {
	c.once.Do(func() {
		c.lines = make(chan lineResult, 1)
		go c.readLoop()
	})
	if _, err := fmt.Fprintf(c.out, "\n%s\n> ", q.Prompt); err != nil {
		return Answer{}, fmt.Errorf("write prompt: %w", err)
	}
	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(c.out)
		return Answer{}, ctx.Err()
	case res, ok := <-c.lines:
		if !ok || res.err != nil {
			return Answer{OK: false}, nil
		}
		return Answer{Text: res.text, OK: true}, nil
	}
}

// ScriptedReply is one canned answer of a ScriptedChannel.
type ScriptedReply struct {
	Text string
	// Silent answers with no input.
	Silent bool
	// Hang blocks until the question's context ends.
	Hang bool
}

func Reply(text string) ScriptedReply {
	return ScriptedReply{Text: text}
}

func Silence() ScriptedReply {
	return ScriptedReply{Silent: true}
}

func Hang() ScriptedReply {
	return ScriptedReply{Hang: true}
}

// ScriptedChannel replays fixed replies in order, for tests and batch runs.
// Once the script is used up every question gets no input.
type ScriptedChannel struct {
	mu      sync.Mutex
	replies []ScriptedReply
	asked   []Question
}

func NewScriptedChannel(replies ...ScriptedReply) *ScriptedChannel {
	return &ScriptedChannel{replies: replies}
}

func (c *ScriptedChannel) Ask(ctx context.Context, q Question) (Answer, error) {
	c.mu.Lock()
	c.asked = append(c.asked, q)
	var reply ScriptedReply
	if len(c.replies) == 0 {
		reply = Silence()
	} else {
		reply, c.replies = c.replies[0], c.replies[1:]
	}
	c.mu.Unlock()

	switch {
	case reply.Hang:
		<-ctx.Done()
		return Answer{}, ctx.Err()
	case reply.Silent:
		return Answer{OK: false}, nil
	}
	return Answer{Text: reply.Text, OK: true}, nil
}

// Asked returns the questions seen so far.
func (c *ScriptedChannel) Asked() []Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Question, len(c.asked))
	copy(out, c.asked)
	return out
}
