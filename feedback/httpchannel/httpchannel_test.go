package httpchannel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/jobfill/feedback"
)

func waitPending(t *testing.T, c *Channel) PendingQuestion {
	t.Helper()
	var pending []PendingQuestion
	require.Eventually(t, func() bool {
		pending = c.Pending()
		return len(pending) == 1
	}, time.Second, 5*time.Millisecond)
	return pending[0]
}

func TestAnswerOverHTTP(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	type result struct {
		answer feedback.Answer
		err    error
	}
	done := make(chan result, 1)
	go func() {
		a, err := c.Ask(context.Background(), feedback.Question{FieldID: "visa_status", Prompt: "Visa?"})
		done <- result{a, err}
	}()
	q := waitPending(t, c)

	resp, err := http.Get(srv.URL + "/questions")
	require.NoError(t, err)
	var listed []PendingQuestion
	require.NoError(t, sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&listed))
	_ = resp.Body.Close()
	require.Len(t, listed, 1)
	assert.Equal(t, "visa_status", listed[0].FieldID)
	assert.Equal(t, "Visa?", listed[0].Prompt)

	resp, err = http.Post(srv.URL+"/questions/"+q.ID+"/answer", "application/json",
		strings.NewReader(`{"answer":"<b>No</b> &amp; thanks"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, feedback.Answer{Text: "No & thanks", OK: true}, got.answer)
	assert.Empty(t, c.Pending())

	resp, err = http.Post(srv.URL+"/questions/"+q.ID+"/answer", "application/json", strings.NewReader(`{"answer":"again"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBadBody(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/questions/x/answer", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAskHonoursContext(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Ask(ctx, feedback.Question{FieldID: "a", Prompt: "?"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, c.Pending())
}
