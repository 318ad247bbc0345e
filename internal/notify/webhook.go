// Package notify posts run summaries to configured webhook URLs when a
// recording run finishes.
package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"text/template"
	"time"

	"github.com/inkley/sensorctl/internal/model"
	"github.com/inkley/sensorctl/pkg/logger"
)

type Notifier struct {
	urls     []string
	template string
	client   *http.Client
}

// New builds a notifier from the configured URL list. Returns nil when no
// URLs are configured; a nil Notifier is safe to call.
func New(urls []string, tmpl string) *Notifier {
	if len(urls) == 0 {
		return nil
	}
	return &Notifier{
		urls:     urls,
		template: tmpl,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// RunFinished posts the finished run to every configured URL. Deliveries
// run in the background and never block or fail the caller.
func (n *Notifier) RunFinished(run model.Run) {
	if n == nil {
		return
	}
	for _, url := range n.urls {
		go n.send(url, run)
	}
}

func (n *Notifier) send(url string, run model.Run) {
	// Optional template renders a text field next to the raw run, for
	// chat-style receivers that display {"text": ...}.
	text := ""
	if n.template != "" {
		tmpl, err := template.New("run").Parse(n.template)
		if err == nil {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, run); err == nil {
				text = buf.String()
			}
		}
	}

	body := map[string]interface{}{
		"run": run,
	}
	if text != "" {
		body["text"] = text
	}
	payload, err := json.Marshal(body)
	if err != nil {
		logger.Log.Errorf("Failed to marshal webhook payload: %v", err)
		return
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(payload))
	if err != nil {
		logger.Log.Errorf("Failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		logger.Log.Errorf("Failed to send webhook to %s: %v", url, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Log.Errorf("Webhook %s returned status: %d", url, resp.StatusCode)
	} else {
		logger.Log.Infof("Webhook sent to %s", url)
	}
}
