package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/bridge/internal/completion"
	"github.com/hyperengineering/bridge/internal/metrics"
	"github.com/hyperengineering/bridge/internal/types"
	"github.com/hyperengineering/bridge/internal/validation"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubRetriever struct {
	entries []types.RetrievedEntry
	err     error
	userID  string
	text    string
}

func (s *stubRetriever) Query(ctx context.Context, userID, text string) ([]types.RetrievedEntry, error) {
	s.userID, s.text = userID, text
	return s.entries, s.err
}

type stubCompleter struct {
	reply    string
	err      error
	calls    int
	messages []completion.Message
	deadline time.Time
	wait     bool
}

func (s *stubCompleter) Complete(ctx context.Context, messages []completion.Message) (string, error) {
	s.calls++
	s.messages = messages
	s.deadline, _ = ctx.Deadline()
	if s.wait {
		<-ctx.Done()
		return "", &completion.UpstreamError{Kind: completion.ErrUpstreamUnavailable, Err: ctx.Err()}
	}
	return s.reply, s.err
}

func (s *stubCompleter) Model() string { return "stub-model" }

func entry(day int, text string) types.RetrievedEntry {
	return types.RetrievedEntry{
		SymptomEntry: types.SymptomEntry{
			ID:       text,
			Text:     text,
			LoggedAt: time.Date(2026, 1, day, 15, 30, 0, 0, time.UTC),
		},
		Score: 0.5,
	}
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt("headache again", []types.RetrievedEntry{
		entry(2, "headache"),
		entry(9, "headache with nausea"),
	})

	want := "headache again\n\n" +
		"--- HISTORICAL SYMPTOMS ---\n" +
		"- [2026-01-02] headache\n" +
		"- [2026-01-09] headache with nausea\n" +
		"--- END HISTORICAL SYMPTOMS ---"
	if got != want {
		t.Errorf("BuildPrompt() =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildPrompt_NoHistory(t *testing.T) {
	got := BuildPrompt("first time dizziness", nil)

	want := "first time dizziness\n\n" +
		"--- HISTORICAL SYMPTOMS ---\n" +
		"(none recorded)\n" +
		"--- END HISTORICAL SYMPTOMS ---"
	if got != want {
		t.Errorf("BuildPrompt() =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages("cough", nil)
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Fatalf("messages = %+v, want system then user", msgs)
	}
	if !strings.HasPrefix(msgs[1].Content, "cough\n\n") {
		t.Errorf("user message = %q, should start with the current text", msgs[1].Content)
	}
}

func TestComposer_Compose(t *testing.T) {
	retriever := &stubRetriever{entries: []types.RetrievedEntry{entry(2, "headache")}}
	completer := &stubCompleter{reply: "  X  "}
	c := NewComposer(retriever, completer)

	res, err := c.Compose(context.Background(), "u1", "  headache again ")
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if res.Summary != "X" {
		t.Errorf("Summary = %q, want %q", res.Summary, "X")
	}
	if res.Model != "stub-model" {
		t.Errorf("Model = %q, want stub-model", res.Model)
	}
	if len(res.Retrieved) != 1 {
		t.Errorf("len(Retrieved) = %d, want 1", len(res.Retrieved))
	}
	if retriever.userID != "u1" || retriever.text != "headache again" {
		t.Errorf("retriever got (%q, %q)", retriever.userID, retriever.text)
	}
	if !strings.Contains(completer.messages[1].Content, "- [2026-01-02] headache") {
		t.Errorf("prompt missing history line: %q", completer.messages[1].Content)
	}
}

func TestComposer_Compose_EmptyInput(t *testing.T) {
	completer := &stubCompleter{reply: "X"}
	c := NewComposer(&stubRetriever{}, completer)

	for _, in := range []string{"", "   ", "\n"} {
		if _, err := c.Compose(context.Background(), "u1", in); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("Compose(%q) error = %v, want ErrEmptyInput", in, err)
		}
	}
	if completer.calls != 0 {
		t.Error("upstream must not be called for empty input")
	}
}

func TestComposer_Compose_TooLong(t *testing.T) {
	c := NewComposer(&stubRetriever{}, &stubCompleter{reply: "X"})

	_, err := c.Compose(context.Background(), "u1", strings.Repeat("a", validation.MaxCurrentLength+1))
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		t.Errorf("error = %v, want validation.Errors", err)
	}
}

func TestComposer_Compose_UpstreamErrorsPassThrough(t *testing.T) {
	kinds := []error{
		completion.ErrUpstreamRejected,
		completion.ErrRateLimited,
		completion.ErrUpstreamUnavailable,
	}

	for _, kind := range kinds {
		completer := &stubCompleter{err: &completion.UpstreamError{Kind: kind}}
		c := NewComposer(&stubRetriever{}, completer)

		res, err := c.Compose(context.Background(), "u1", "fever")
		if !errors.Is(err, kind) {
			t.Errorf("error = %v, want %v", err, kind)
		}
		if res != nil {
			t.Error("no result on failure")
		}
		if completer.calls != 1 {
			t.Errorf("calls = %d, want exactly 1 (no retry)", completer.calls)
		}
	}
}

func TestComposer_Compose_Timeout(t *testing.T) {
	completer := &stubCompleter{wait: true}
	c := NewComposer(&stubRetriever{}, completer, WithTimeout(20*time.Millisecond))

	_, err := c.Compose(context.Background(), "u1", "chills")
	if !errors.Is(err, completion.ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
	if completer.deadline.IsZero() {
		t.Error("completion context should carry a deadline")
	}
}

func TestComposer_Compose_RetrieverError(t *testing.T) {
	boom := errors.New("index broken")
	completer := &stubCompleter{reply: "X"}
	c := NewComposer(&stubRetriever{err: boom}, completer)

	if _, err := c.Compose(context.Background(), "u1", "fever"); !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
	if completer.calls != 0 {
		t.Error("upstream must not be called when retrieval fails")
	}
}

func TestComposer_RecordsOutcomeMetrics(t *testing.T) {
	m := metrics.New(nil)
	c := NewComposer(&stubRetriever{}, &stubCompleter{reply: "ok"}, WithMetrics(m))
	c.Compose(context.Background(), "u1", "fever")

	limited := NewComposer(&stubRetriever{}, &stubCompleter{err: &completion.UpstreamError{Kind: completion.ErrRateLimited}}, WithMetrics(m))
	limited.Compose(context.Background(), "u1", "fever")

	if got := testutil.ToFloat64(m.SummaryRequests.WithLabelValues(metrics.OutcomeSuccess)); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SummaryRequests.WithLabelValues(metrics.OutcomeRateLimited)); got != 1 {
		t.Errorf("rate_limited count = %v, want 1", got)
	}
}
