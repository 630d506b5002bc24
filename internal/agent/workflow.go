package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Reply represents a reply.
type Reply struct {
	Segments []string `json:"segments"`
	Emotion  string   `json:"emotion,omitempty"`
}

// Text executes the text function.
func (r Reply) Text() string {
	out := ""
	for _, seg := range r.Segments {
		out += seg
	}
	return out
}

// Workflow produces a reply for a recognized or typed utterance.
type Workflow interface {
	Respond(ctx context.Context, deviceID string, utterance string) (Reply, error)
}

// Webhook represents a webhook.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook executes the newWebhook function.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookRequest struct {
	DeviceID  string `json:"device_id"`
	Utterance string `json:"utterance"`
}

// Respond executes the respond function.
func (w *Webhook) Respond(ctx context.Context, deviceID string, utterance string) (Reply, error) {
	body, err := json.Marshal(webhookRequest{DeviceID: deviceID, Utterance: utterance})
	if err != nil {
		return Reply{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return Reply{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Reply{}, fmt.Errorf("workflow webhook returned %d", resp.StatusCode)
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Reply{}, err
	}
	return reply, nil
}
