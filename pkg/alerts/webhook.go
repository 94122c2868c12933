// Package alerts pkg/alerts/webhook.go delivers storage threshold events to
// an HTTP webhook.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"text/template"
	"time"
)

var (
	errWebhookDisabled   = fmt.Errorf("webhook alerter is disabled")
	errWebhookCooldown   = fmt.Errorf("alert is within cooldown period")
	errWebhookStatus     = fmt.Errorf("webhook returned non-200 status")
	errTemplateParse     = fmt.Errorf("template parsing failed")
	errTemplateExecution = fmt.Errorf("template execution failed")
)

const webhookTimeout = 10 * time.Second

// AlertLevel classifies an alert.
type AlertLevel string

const (
	Info    AlertLevel = "info"
	Warning AlertLevel = "warning"
	Error   AlertLevel = "error"
)

// Alert is a single storage event worth notifying about.
type Alert struct {
	Level     AlertLevel     `json:"level"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Header is a custom HTTP header attached to webhook requests.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// WebhookConfig configures a single webhook destination.
type WebhookConfig struct {
	Enabled  bool          `json:"enabled"`
	URL      string        `json:"url"`
	Headers  []Header      `json:"headers,omitempty"`
	Template string        `json:"template,omitempty"` // optional JSON payload template
	Cooldown time.Duration `json:"cooldown,omitempty"`
}

func (w *WebhookConfig) UnmarshalJSON(data []byte) error {
	type Alias WebhookConfig

	aux := &struct {
		Cooldown string `json:"cooldown"`
		*Alias
	}{
		Alias: (*Alias)(w),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Cooldown != "" {
		duration, err := time.ParseDuration(aux.Cooldown)
		if err != nil {
			return fmt.Errorf("invalid cooldown format: %w", err)
		}

		w.Cooldown = duration
	}

	return nil
}

// WebhookAlerter posts alerts to a configured URL, suppressing repeats of
// the same title within the cooldown window.
type WebhookAlerter struct {
	config         WebhookConfig
	client         *http.Client
	mu             sync.Mutex
	lastAlertTimes map[string]time.Time
}

// NewWebhookAlerter creates an alerter for the given destination.
func NewWebhookAlerter(config WebhookConfig) *WebhookAlerter {
	return &WebhookAlerter{
		config: config,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
		lastAlertTimes: make(map[string]time.Time),
	}
}

func (w *WebhookAlerter) IsEnabled() bool {
	return w.config.Enabled
}

// Alert delivers the alert unless the alerter is disabled or the alert is
// within its cooldown window.
func (w *WebhookAlerter) Alert(ctx context.Context, alert *Alert) error {
	if !w.IsEnabled() {
		return errWebhookDisabled
	}

	if err := w.checkCooldown(alert.Title); err != nil {
		return err
	}

	if alert.Timestamp == "" {
		alert.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	payload, err := w.preparePayload(alert)
	if err != nil {
		return fmt.Errorf("failed to prepare payload: %w", err)
	}

	return w.sendRequest(ctx, payload)
}

func (w *WebhookAlerter) checkCooldown(alertTitle string) error {
	if w.config.Cooldown <= 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	last, ok := w.lastAlertTimes[alertTitle]
	if ok && time.Since(last) < w.config.Cooldown {
		return errWebhookCooldown
	}

	w.lastAlertTimes[alertTitle] = time.Now()

	return nil
}

func (w *WebhookAlerter) preparePayload(alert *Alert) ([]byte, error) {
	if w.config.Template == "" {
		return json.Marshal(alert)
	}

	tmpl, err := template.New("webhook").Funcs(template.FuncMap{
		"json": func(v interface{}) (string, error) {
			data, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("JSON marshaling failed: %w", err)
			}

			return string(data), nil
		},
	}).Parse(w.config.Template)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, alert); err != nil {
		return nil, fmt.Errorf("%w: %w", errTemplateExecution, err)
	}

	return buf.Bytes(), nil
}

func (w *WebhookAlerter) sendRequest(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for _, h := range w.config.Headers {
		req.Header.Set(h.Key, h.Value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close webhook response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %d - %s", errWebhookStatus, resp.StatusCode, string(body))
	}

	return nil
}
