package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	webhookTimeout = 10 * time.Second
	webhookRetries = 1
)

// payloadFunc renders the request body a webhook type expects.
type payloadFunc func(a *Alert) any

var payloads = map[string]payloadFunc{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  httpPayload,
}

// deliver posts a to every configured webhook in parallel and waits for
// all of them. A failing target never blocks the others; errors are only
// logged.
func (e *Engine) deliver(a *Alert) {
	var wg sync.WaitGroup
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		render, ok := payloads[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		body, err := json.Marshal(render(a))
		if err != nil {
			slog.Error("alerts: encode webhook payload", "type", wh.Type, "err", err)
			continue
		}
		wg.Add(1)
		go func(typ string) {
			defer wg.Done()
			attempts, err := e.postWithRetry(url, eventName(a), body)
			if err != nil {
				slog.Error("alerts: webhook delivery failed",
					"type", typ,
					"rule", a.RuleName,
					"job", a.JobID,
					"attempts", attempts,
					"err", err,
				)
				return
			}
			slog.Debug("alerts: webhook delivered",
				"type", typ,
				"rule", a.RuleName,
				"job", a.JobID,
				"state", a.State,
				"attempts", attempts,
			)
		}(wh.Type)
	}
	wg.Wait()
}

// hookError is a delivery failure; retry says whether another attempt
// may succeed (network errors, 429 and 5xx).
type hookError struct {
	status int
	retry  bool
	err    error
}

func (h *hookError) Error() string {
	if h.status != 0 {
		return fmt.Sprintf("webhook returned HTTP %d: %v", h.status, h.err)
	}
	return h.err.Error()
}

// postWithRetry posts body, retrying transient failures once after
// e.hookRetry. It returns the number of attempts made.
func (e *Engine) postWithRetry(url, event string, body []byte) (int, error) {
	var err error
	for attempt := 1; ; attempt++ {
		err = e.post(url, event, body)
		if err == nil {
			return attempt, nil
		}
		var he *hookError
		if !errors.As(err, &he) || !he.retry || attempt > webhookRetries {
			return attempt, err
		}
		time.Sleep(e.hookRetry)
	}
}

func (e *Engine) post(url, event string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "adlens-server")
	req.Header.Set("X-Adlens-Event", event)

	resp, err := e.client.Do(req)
	if err != nil {
		return &hookError{retry: true, err: fmt.Errorf("http post: %w", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return &hookError{
		status: resp.StatusCode,
		retry:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		err:    fmt.Errorf("%s", bytes.TrimSpace(msg)),
	}
}

// eventName is sent as X-Adlens-Event and in generic payloads.
func eventName(a *Alert) string {
	if a.State == "resolved" {
		return "alert.resolved"
	}
	return "alert.firing"
}

// slackPayload renders an incoming-webhook message: a plain text line for
// notifications plus an attachment carrying the job facts.
func slackPayload(a *Alert) any {
	return map[string]any{
		"text": fmt.Sprintf("*%s* %s%s", severityLabel(a.Severity), a.Message, resolvedSuffix(a)),
		"attachments": []map[string]any{{
			"color":  "#" + stateColor(a),
			"fields": slackFields(a),
			"ts":     a.FiredAt.Unix(),
		}},
	}
}

func slackFields(a *Alert) []map[string]any {
	facts := alertFacts(a)
	out := make([]map[string]any, 0, len(facts))
	for _, f := range facts {
		out = append(out, map[string]any{"title": f[0], "value": f[1], "short": true})
	}
	return out
}

// teamsPayload renders a connector MessageCard with one facts section.
func teamsPayload(a *Alert) any {
	title := fmt.Sprintf("adlens alert: %s (%s)", a.RuleName, a.JobID)
	if a.State == "resolved" {
		title = fmt.Sprintf("adlens alert resolved: %s (%s)", a.RuleName, a.JobID)
	}
	facts := alertFacts(a)
	section := make([]map[string]string, 0, len(facts))
	for _, f := range facts {
		section = append(section, map[string]string{"name": f[0], "value": f[1]})
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": stateColor(a),
		"summary":    a.RuleName,
		"title":      title,
		"text":       a.Message,
		"sections":   []map[string]any{{"facts": section}},
	}
}

// httpPayload is the generic JSON body: the event name and the alert.
func httpPayload(a *Alert) any {
	return map[string]any{
		"event": eventName(a),
		"alert": a,
	}
}

// alertFacts lists the job facts shown by chat webhooks, in display order.
func alertFacts(a *Alert) [][2]string {
	facts := [][2]string{
		{"Job", a.JobID},
		{"Kind", a.Kind},
		{"Severity", a.Severity},
		{"Value", strconv.FormatFloat(a.Value, 'f', -1, 64)},
		{"Fired", a.FiredAt.UTC().Format(time.RFC3339)},
	}
	if a.ResolvedAt != nil {
		facts = append(facts, [2]string{"Resolved", a.ResolvedAt.UTC().Format(time.RFC3339)})
	}
	return facts
}

func resolvedSuffix(a *Alert) string {
	if a.State == "resolved" {
		return " (resolved)"
	}
	return ""
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

// stateColor is the severity color while firing and green once resolved.
func stateColor(a *Alert) string {
	if a.State == "resolved" {
		return "2EB67D"
	}
	switch a.Severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
