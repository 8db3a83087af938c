package notifier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestConsoleWritesAlertLine(t *testing.T) {
	var sb strings.Builder
	c := &Console{Out: &sb}
	require.NoError(t, c.Send(context.Background(), "db is down"))
	require.Contains(t, sb.String(), "[ALERT]")
	require.Contains(t, sb.String(), "db is down")
}

func TestFileAppendsAcrossSends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.log")
	f := NewFile(path)

	require.NoError(t, f.Send(context.Background(), "first"))
	require.NoError(t, f.Send(context.Background(), "second"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "first")
	require.Contains(t, lines[1], "second")
}

func TestWebhookPostsJSONPayload(t *testing.T) {
	var captured *http.Request
	var body string
	w := NewWebhook("http://hooks.example/vigil")
	w.HTTP.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		captured = r
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
	})

	require.NoError(t, w.Send(context.Background(), "cpu over threshold"))
	require.Equal(t, http.MethodPost, captured.Method)
	require.Equal(t, "application/json", captured.Header.Get("Content-Type"))
	require.Contains(t, body, `"text":"cpu over threshold"`)
	require.Contains(t, body, `"source":"vigil"`)
}

func TestWebhookRejectsNon2xx(t *testing.T) {
	w := NewWebhook("http://hooks.example/vigil")
	w.HTTP.Transport = roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("upstream gone"))}, nil
	})

	err := w.Send(context.Background(), "msg")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
	require.Contains(t, err.Error(), "upstream gone")
}

func TestWebhookRequiresURL(t *testing.T) {
	w := NewWebhook("")
	require.Error(t, w.Send(context.Background(), "msg"))
}

type stubChannel struct {
	name string
	err  error
	got  []string
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Send(_ context.Context, msg string) error {
	s.got = append(s.got, msg)
	return s.err
}

func TestMultiDeliversPastFailingChannel(t *testing.T) {
	broken := &stubChannel{name: "broken", err: errors.New("boom")}
	working := &stubChannel{name: "working"}
	m := NewMulti(broken, working)

	err := m.Send(context.Background(), "disk filling up")
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
	require.Equal(t, []string{"disk filling up"}, working.got, "failure on one channel must not skip the rest")
}

func TestMultiNoChannelsIsNoop(t *testing.T) {
	require.NoError(t, NewMulti().Send(context.Background(), "msg"))
}
