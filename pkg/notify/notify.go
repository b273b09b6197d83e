// Package notify delivers operator notifications to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	// DefaultFlags suppresses link embeds on the posted message.
	DefaultFlags = 4

	// MaxContentLength is the longest message body the webhook accepts.
	MaxContentLength = 2000

	defaultTimeout = 10 * time.Second
)

// Notifier sends a best-effort operator message. Implementations must not
// block the caller beyond their own timeout and never return errors.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, string) {}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Content string `json:"content"`
	Flags   int    `json:"flags"`
}

// Webhook posts messages to a Discord-compatible webhook URL.
type Webhook struct {
	url    string
	flags  int
	prefix string
	client *http.Client
	logger *zap.Logger
}

// Config configures a Webhook.
type Config struct {
	URL     string
	Flags   int
	Prefix  string
	Timeout time.Duration
}

// New returns a Webhook notifier, or Nop when cfg.URL is empty.
func New(cfg Config, logger *zap.Logger) Notifier {
	if strings.TrimSpace(cfg.URL) == "" {
		return Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Flags == 0 {
		cfg.Flags = DefaultFlags
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Webhook{
		url:    cfg.URL,
		flags:  cfg.Flags,
		prefix: cfg.Prefix,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Notify posts message. Delivery failures are logged at warn level.
func (w *Webhook) Notify(ctx context.Context, message string) {
	if ctx == nil {
		ctx = context.Background()
	}
	// Deliver even when the triggering job is being cancelled.
	ctx = context.WithoutCancel(ctx)

	if err := w.send(ctx, message); err != nil {
		w.logger.Warn("Notification delivery failed", zap.Error(err))
	}
}

func (w *Webhook) send(ctx context.Context, message string) error {
	content := message
	if w.prefix != "" {
		content = w.prefix + " " + content
	}
	content = Truncate(content, MaxContentLength)

	body, err := json.Marshal(Payload{Content: content, Flags: w.flags})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Truncate shortens s to at most limit runes, marking the cut with an
// ellipsis.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, message string)

func (f Func) Notify(ctx context.Context, message string) { f(ctx, message) }

// WithPrefix returns a Notifier that puts prefix on its own line above each
// message before handing it to n.
func WithPrefix(n Notifier, prefix string) Notifier {
	if n == nil {
		return Nop{}
	}
	if prefix == "" {
		return n
	}
	return Func(func(ctx context.Context, message string) {
		n.Notify(ctx, prefix+"\n"+message)
	})
}
