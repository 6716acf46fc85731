package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackClient posts run summaries to a Slack incoming webhook.
type SlackClient struct {
	WebhookURL string
	Channel    string // Optional: override default channel

	httpClient *http.Client
}

// NewSlackClient builds a webhook client. An empty URL yields a client
// that silently drops messages, so callers never need to branch.
func NewSlackClient(webhookURL, channel string) *SlackClient {
	return &SlackClient{
		WebhookURL: webhookURL,
		Channel:    channel,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify dispatches a Block Kit message summarizing the run.
func (s *SlackClient) Notify(ctx context.Context, sum Summary) error {
	if s.WebhookURL == "" || !sum.HasFindings() {
		return nil
	}

	jsonPayload, err := json.Marshal(s.constructPayload(sum))
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status from slack: %d", resp.StatusCode)
	}
	return nil
}

// constructPayload builds the Slack Block Kit structure.
// Ref: https://api.slack.com/block-kit/building
func (s *SlackClient) constructPayload(sum Summary) map[string]interface{} {
	statusIcon := "🟢"
	if sum.TotalScore() >= 10 {
		statusIcon = "🔴"
	} else if sum.TotalScore() > 0 {
		statusIcon = "🟡"
	}

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{
				"type": "plain_text",
				"text": fmt.Sprintf("%s Configuration Change Report: %s", statusIcon, sum.Account),
			},
		},
		{
			"type": "context",
			"elements": []map[string]interface{}{
				{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Run:* %s | *Started:* %s", sum.RunID, sum.StartedAt.Format("2006-01-02 15:04")),
				},
			},
		},
		{
			"type": "divider",
		},
	}

	for _, r := range sum.Reports {
		if r.Created == 0 && r.Changed == 0 && r.Deleted == 0 && r.NewIssues == 0 {
			continue
		}
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s*\ncreated %d · changed %d · deleted %d · new issues %d · unjustified %d (score %d)",
					r.Technology, r.Created, r.Changed, r.Deleted, r.NewIssues, r.Unjustified, r.Score),
			},
		})
	}

	payload := map[string]interface{}{"blocks": blocks}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	return payload
}
