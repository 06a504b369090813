package feedback

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/jobfill/internal/fakemodel"
	"github.com/tbxark/jobfill/types"
)

var visaField = types.FormField{
	ID: "visa_status", Label: "Visa Sponsorship Required?", HTMLType: types.HTMLSelect,
	Required: true, Options: []string{"Yes", "No"}, Page: 1,
}

func TestResolveWritesNewPath(t *testing.T) {
	t.Parallel()
	ch := NewScriptedChannel(Reply(" No "))
	r, err := NewResolver(ch)
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), Request{Field: visaField, Profile: types.FlatProfile{"personal.first_name": "Ada"}})
	require.NoError(t, err)
	assert.False(t, res.NoAnswer)
	assert.Equal(t, "No", res.Answer)
	assert.Equal(t, &Update{Path: "application.visa_status", Value: "No"}, res.Update)

	asked := ch.Asked()
	require.Len(t, asked, 1, "exactly one question per round")
	assert.Equal(t, "visa_status", asked[0].FieldID)
	assert.Contains(t, asked[0].Prompt, "Visa Sponsorship Required?")
	assert.Contains(t, asked[0].Prompt, "1) Yes 2) No")
	assert.Contains(t, asked[0].Prompt, "required")
}

func TestResolveTargetPaths(t *testing.T) {
	t.Parallel()
	field := types.FormField{ID: "phone", Label: "Phone", HTMLType: types.HTMLTel, Page: 1}

	r, err := NewResolver(NewScriptedChannel(Reply("123"), Reply("456")), WithPathPrefix("extra"))
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), Request{
		Field:   field,
		Profile: types.FlatProfile{"contact.phone": "", "work.phone": "999"},
	})
	require.NoError(t, err)
	assert.Equal(t, "contact.phone", res.Update.Path, "existing empty path is overwritten")

	res, err = r.Resolve(context.Background(), Request{Field: field, TargetPath: "work.phone"})
	require.NoError(t, err)
	assert.Equal(t, "work.phone", res.Update.Path)
	assert.Equal(t, "456", res.Update.Value)
}

func TestResolveNeverOverwritesStoredValue(t *testing.T) {
	t.Parallel()
	field := types.FormField{ID: "phone", Label: "Phone", HTMLType: types.HTMLTel, Page: 1}
	r, err := NewResolver(NewScriptedChannel(Reply("123"), Reply("456")), WithPathPrefix("extra"))
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), Request{
		Field:      field,
		TargetPath: "work.phone",
		Profile:    types.FlatProfile{"work.phone": "999"},
	})
	require.NoError(t, err)
	assert.Equal(t, "extra.phone", res.Update.Path)

	res, err = r.Resolve(context.Background(), Request{
		Field:      field,
		TargetPath: "work.phone",
		Profile:    types.FlatProfile{"work.phone": "999", "extra.phone": "123", "extra.phone_2": ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "extra.phone_2", res.Update.Path)
}

func TestResolveNoAnswer(t *testing.T) {
	t.Parallel()
	cases := map[string]ScriptedReply{
		"silent": Silence(),
		"skip":   Reply("skip"),
		"empty":  Reply("   "),
		"n/a":    Reply("N/A"),
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			r, err := NewResolver(NewScriptedChannel(reply))
			require.NoError(t, err)
			res, err := r.Resolve(context.Background(), Request{Field: visaField})
			require.NoError(t, err)
			assert.True(t, res.NoAnswer)
			assert.Nil(t, res.Update)
			assert.NotEmpty(t, res.Prompt)
		})
	}
}

func TestResolveTimeoutIsNoAnswer(t *testing.T) {
	t.Parallel()
	r, err := NewResolver(NewScriptedChannel(Hang()), WithTimeout(10*time.Millisecond))
	require.NoError(t, err)
	res, err := r.Resolve(context.Background(), Request{Field: visaField})
	require.NoError(t, err)
	assert.True(t, res.NoAnswer)
}

func TestResolveCancellation(t *testing.T) {
	t.Parallel()
	r, err := NewResolver(NewScriptedChannel(Reply("quit")))
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), Request{Field: visaField})
	require.ErrorIs(t, err, ErrCancelled)

	ctx, cancel := context.WithCancel(context.Background())
	r, err = NewResolver(NewScriptedChannel(Hang()))
	require.NoError(t, err)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = r.Resolve(ctx, Request{Field: visaField})
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseValue(t *testing.T) {
	t.Parallel()
	box := types.FormField{ID: "agree", HTMLType: types.HTMLCheckbox, Page: 1}
	assert.Equal(t, true, ParseValue(box, "Yes"))
	assert.Equal(t, false, ParseValue(box, "nope"))
	assert.Equal(t, "No", ParseValue(visaField, "2"))
	assert.Equal(t, "7", ParseValue(visaField, "7"))
	assert.Equal(t, "Ada", ParseValue(types.FormField{ID: "n", HTMLType: types.HTMLText, Page: 1}, " Ada "))
}

func TestFieldKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "visa_status", FieldKey(visaField))
	assert.Equal(t, "what_is_your_notice_period", FieldKey(types.FormField{ID: "q[3]", Label: "What is your notice period?"}))
	assert.Equal(t, "q_3", FieldKey(types.FormField{ID: "q[3]"}))
	assert.Equal(t, "answer", FieldKey(types.FormField{}))
}

type failingPrompter struct{}

func (failingPrompter) BuildPrompt(ctx context.Context, req *PromptRequest) (string, error) {
	return "", errors.New("offline")
}

func TestPrompters(t *testing.T) {
	t.Parallel()
	chatModel := &fakemodel.Model{Content: "  Do you need visa sponsorship (Yes or No)? Reply skip to leave it empty.  "}
	p := NewFailbackPrompter(failingPrompter{}, NewToolBasedPrompter(chatModel), LocalPrompter{})
	prompt, err := p.BuildPrompt(context.Background(), &PromptRequest{Field: visaField, PriorAttempts: 1, LastError: "selector not found"})
	require.NoError(t, err)
	assert.Equal(t, "Do you need visa sponsorship (Yes or No)? Reply skip to leave it empty.", prompt)
	assert.Contains(t, chatModel.LastPrompt()[1].Content, "selector not found")

	empty := NewFailbackPrompter(NewToolBasedPrompter(&fakemodel.Model{}), LocalPrompter{})
	prompt, err = empty.BuildPrompt(context.Background(), &PromptRequest{Field: visaField, PriorAttempts: 2, LastError: "selector not found"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, `We could not fill "Visa Sponsorship Required?" (selector not found).`))

	_, err = NewFailbackPrompter(failingPrompter{}).BuildPrompt(context.Background(), &PromptRequest{Field: visaField})
	require.Error(t, err)
}

func TestTerminalChannel(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	ch := NewTerminalChannel(strings.NewReader("No\nskip\n"), &out)
	a, err := ch.Ask(context.Background(), Question{FieldID: "visa_status", Prompt: "Visa?"})
	require.NoError(t, err)
	assert.Equal(t, "No\n", a.Text)
	assert.True(t, a.OK)

	a, err = ch.Ask(context.Background(), Question{FieldID: "x", Prompt: "X?"})
	require.NoError(t, err)
	assert.Equal(t, "skip\n", a.Text)

	a, err = ch.Ask(context.Background(), Question{FieldID: "y", Prompt: "Y?"})
	require.NoError(t, err)
	assert.False(t, a.OK, "end of input means no answer")
	assert.Contains(t, out.String(), "Visa?")
}

func TestTerminalChannelTimeout(t *testing.T) {
	t.Parallel()
	pr, pw := io.Pipe()
	defer pw.Close()
	ch := NewTerminalChannel(pr, io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := ch.Ask(ctx, Question{FieldID: "a", Prompt: "?"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
