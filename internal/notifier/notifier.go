package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// Notifier delivers an escalated alert message to one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg string) error
}

// Console writes escalation lines to a writer, stdout by default.
type Console struct {
	Out io.Writer
}

func NewConsole() *Console { return &Console{Out: os.Stdout} }

func (c *Console) Name() string { return "console" }

func (c *Console) Send(_ context.Context, msg string) error {
	_, err := fmt.Fprintf(c.Out, "[ALERT] %s %s\n", time.Now().UTC().Format(time.RFC3339), msg)
	return err
}

// File appends escalation lines to a log file.
type File struct {
	Path string
	mu   sync.Mutex
}

func NewFile(path string) *File { return &File{Path: path} }

func (f *File) Name() string { return "file" }

func (f *File) Send(_ context.Context, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh, err := os.OpenFile(f.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer fh.Close()
	_, err = fmt.Fprintf(fh, "%s %s\n", time.Now().UTC().Format(time.RFC3339), msg)
	return err
}

// Webhook POSTs a JSON payload to an external endpoint.
type Webhook struct {
	URL  string
	HTTP *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:  url,
		HTTP: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, msg string) error {
	if w.URL == "" {
		return fmt.Errorf("webhook not configured")
	}
	payload := map[string]any{"text": msg, "source": "vigil", "ts": time.Now().UTC().Format(time.RFC3339)}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := w.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d: %s", res.StatusCode, string(body))
	}
	return nil
}

// Multi fans a message out to every configured channel. A failing
// channel never prevents delivery on the others.
type Multi struct {
	channels []Notifier
}

func NewMulti(channels ...Notifier) *Multi { return &Multi{channels: channels} }

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Send(ctx context.Context, msg string) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}
