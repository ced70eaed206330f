package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"genflow/internal/api"
	"genflow/internal/config"
	"genflow/internal/generation"
	"genflow/internal/logging"
)

const userAgent = "genflow/0.1.0"

const promptPreviewWidth = 80

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// Notifier posts terminal records to an ntfy topic.
type Notifier struct {
	endpoint        string
	client          *http.Client
	logger          *slog.Logger
	notifyCompleted bool
	notifyCancelled bool
}

// New builds a notifier for the configured topic. It returns nil when the
// topic is empty.
func New(cfg config.Notifications, logger *slog.Logger) *Notifier {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Notifier{
		endpoint:        topic,
		client:          &http.Client{Timeout: timeout},
		logger:          logging.NewComponentLogger(logger, "notifications"),
		notifyCompleted: cfg.NotifyCompleted,
		notifyCancelled: cfg.NotifyCancelled,
	}
}

// Endpoint returns the topic URL messages are posted to.
func (n *Notifier) Endpoint() string { return n.endpoint }

// OnRecord sends a notification when the record's status is one the notifier
// is configured to report.
func (n *Notifier) OnRecord(ctx context.Context, rec generation.Record) error {
	if n == nil {
		return nil
	}
	data, ok := n.format(rec)
	if !ok {
		return nil
	}
	if err := n.send(ctx, data); err != nil {
		return err
	}
	n.logger.Debug("notification sent",
		logging.JobID(rec.ID),
		logging.Status(string(rec.Status)),
	)
	return nil
}

// Test sends a low-priority message so users can confirm the topic works.
func (n *Notifier) Test(ctx context.Context) error {
	if n == nil {
		return nil
	}
	return n.send(ctx, payload{
		title:    "genflow - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"genflow", "test"},
		priority: "low",
	})
}

func (n *Notifier) format(rec generation.Record) (payload, bool) {
	subject := fmt.Sprintf("%s generation %s via %s", rec.Kind, api.ShortID(rec.ID), rec.Provider)
	tags := []string{"genflow", string(rec.Kind), string(rec.Status)}
	if rec.BrandID != "" {
		tags = append(tags, "brand:"+rec.BrandID)
	}

	var b strings.Builder
	switch rec.Status {
	case generation.StatusFailed:
		fmt.Fprintf(&b, "❌ %s failed", subject)
		if rec.ErrorKind != "" {
			fmt.Fprintf(&b, " (%s)", rec.ErrorKind)
		}
		if msg := strings.TrimSpace(rec.Error); msg != "" {
			fmt.Fprintf(&b, ": %s", msg)
		}
		writePrompt(&b, rec)
		return payload{
			title:    "genflow - Generation Failed",
			message:  b.String(),
			tags:     tags,
			priority: "high",
		}, true
	case generation.StatusCompleted:
		if !n.notifyCompleted {
			return payload{}, false
		}
		fmt.Fprintf(&b, "✅ %s completed in %s", subject, rec.Duration.Round(100*time.Millisecond))
		if rec.Cost != nil {
			fmt.Fprintf(&b, " ($%.4f)", *rec.Cost)
		}
		if ref := rec.Result.ArtifactRef; ref != "" {
			fmt.Fprintf(&b, "\nArtifact: %s", ref)
		}
		writePrompt(&b, rec)
		return payload{title: "genflow - Generation Complete", message: b.String(), tags: tags}, true
	case generation.StatusCancelled:
		if !n.notifyCancelled {
			return payload{}, false
		}
		fmt.Fprintf(&b, "⏹️ %s cancelled", subject)
		writePrompt(&b, rec)
		return payload{title: "genflow - Generation Cancelled", message: b.String(), tags: tags, priority: "low"}, true
	default:
		return payload{}, false
	}
}

func writePrompt(b *strings.Builder, rec generation.Record) {
	if prompt := api.PromptPreview(rec.Prompt, promptPreviewWidth); prompt != "" {
		fmt.Fprintf(b, "\nPrompt: %s", prompt)
	}
}

func (n *Notifier) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
