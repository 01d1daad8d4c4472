package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"docflow/internal/config"
)

const userAgent = "docflow/0.1.0"

// JobFailure describes a failed job for notification purposes.
type JobFailure struct {
	DocumentID string
	Title      string
	Stage      string
	Category   string
	Message    string
	Attempt    int
	Final      bool
}

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyJobFailed(ctx context.Context, failure JobFailure) error
	NotifyRecoveryAction(ctx context.Context, documentID, stage, action, reason string) error
	NotifyPipelineComplete(ctx context.Context, documentID, title string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		settings: cfg.Notifications,
		window:   time.Duration(cfg.Notifications.DedupWindowSeconds) * time.Second,
		sent:     make(map[string]time.Time),
		now:      time.Now,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	settings config.Notifications

	mu     sync.Mutex
	window time.Duration
	sent   map[string]time.Time
	now    func() time.Time
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, failure JobFailure) error {
	if !n.settings.JobFailures {
		return nil
	}
	key := "failed:" + failure.DocumentID + ":" + failure.Stage
	if !n.shouldSend(key) {
		return nil
	}

	subject := strings.TrimSpace(failure.Title)
	if subject == "" {
		subject = failure.DocumentID
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s failed for %s", stageLabel(failure.Stage), subject)
	if failure.Category != "" {
		fmt.Fprintf(&builder, " [%s]", failure.Category)
	}
	if failure.Attempt > 0 {
		fmt.Fprintf(&builder, " (attempt %d)", failure.Attempt+1)
	}
	if msg := strings.TrimSpace(failure.Message); msg != "" {
		builder.WriteString("\n")
		builder.WriteString(msg)
	}

	title := "docflow - Job Failed"
	priority := "default"
	if failure.Final {
		title = "docflow - Job Failed (needs attention)"
		priority = "high"
	}
	return n.send(ctx, payload{
		title:    title,
		message:  builder.String(),
		tags:     []string{"docflow", "job", "failed"},
		priority: priority,
	})
}

func (n *ntfyService) NotifyRecoveryAction(ctx context.Context, documentID, stage, action, reason string) error {
	if !n.settings.Recovery {
		return nil
	}
	if !n.shouldSend("recovery:" + documentID + ":" + stage + ":" + action) {
		return nil
	}
	message := fmt.Sprintf("Stuck %s job for %s: %s", stageLabel(stage), documentID, action)
	if reason = strings.TrimSpace(reason); reason != "" {
		message += "\n" + reason
	}
	return n.send(ctx, payload{
		title:   "docflow - Recovery",
		message: message,
		tags:    []string{"docflow", "recovery", strings.ToLower(action)},
	})
}

func (n *ntfyService) NotifyPipelineComplete(ctx context.Context, documentID, title string) error {
	if !n.settings.PipelineComplete {
		return nil
	}
	subject := strings.TrimSpace(title)
	if subject == "" {
		subject = documentID
	}
	return n.send(ctx, payload{
		title:   "docflow - Pipeline Complete",
		message: fmt.Sprintf("All stages complete: %s", subject),
		tags:    []string{"docflow", "pipeline", "completed"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "docflow - Test",
		message:  "Notification system test",
		tags:     []string{"docflow", "test"},
		priority: "low",
	})
}

// shouldSend suppresses repeats of the same key inside the dedup window.
func (n *ntfyService) shouldSend(key string) bool {
	if n.window <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.sent[key]; ok && now.Sub(last) < n.window {
		return false
	}
	n.sent[key] = now
	for k, at := range n.sent {
		if now.Sub(at) >= n.window {
			delete(n.sent, k)
		}
	}
	return true
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

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

func stageLabel(stage string) string {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return "Stage"
	}
	return stage
}

type noopService struct{}

func (noopService) NotifyJobFailed(context.Context, JobFailure) error                          { return nil }
func (noopService) NotifyRecoveryAction(context.Context, string, string, string, string) error { return nil }
func (noopService) NotifyPipelineComplete(context.Context, string, string) error               { return nil }
func (noopService) TestNotification(context.Context) error                                     { return nil }
