package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type SlackMsg struct {
	Username    string            `json:"username,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Fallback string `json:"fallback,omitempty"`
	Text     string `json:"text"`
	Color    string `json:"color,omitempty"`
}

var (
	httpClient = &http.Client{Timeout: 5 * time.Second}
)

// Slack posts to an incoming webhook.
type Slack struct {
	HookURL  string
	Username string
	Channel  string
}

func (s *Slack) Notify(ctx context.Context, msg Message) error {
	var attachments []SlackAttachment
	switch msg.Severity {
	case Success:
		attachments = append(attachments, SlackAttachment{Fallback: msg.Text, Text: msg.Text, Color: "good"})
	case Failure:
		attachments = append(attachments, SlackAttachment{Fallback: msg.Text, Text: msg.Text, Color: "warning"})
	}
	sm := SlackMsg{Username: s.Username, Channel: s.Channel, Text: msg.Text}
	if len(attachments) > 0 {
		// the attachment carries the text, coloured
		sm.Text = ""
		sm.Attachments = attachments
	}
	return s.post(ctx, sm)
}

func (s *Slack) post(ctx context.Context, msg SlackMsg) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		return errors.Wrap(err, "encoding Slack POST request")
	}

	req, err := http.NewRequest("POST", s.HookURL, buf)
	if err != nil {
		return errors.Wrap(err, "constructing Slack HTTP request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "executing HTTP POST to Slack")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 1024*1024))
		return fmt.Errorf("%s from Slack (%s)", resp.Status, strings.TrimSpace(string(body)))
	}

	return nil
}
