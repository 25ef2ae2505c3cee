package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// DiscordSender posts messages to an operator channel through a Discord
// webhook, one embed per message.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
}

// toDiscordEmbed renders msg with its data as inline fields, sorted by key so
// repeated notifications look the same.
func toDiscordEmbed(msg Message) discordEmbed {
	e := discordEmbed{Title: msg.Title, Description: msg.Body}
	e.Footer.Text = msg.Event
	keys := make([]string, 0, len(msg.Data))
	for k := range msg.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.Fields = append(e.Fields, discordField{Name: k, Value: fmt.Sprint(msg.Data[k]), Inline: true})
	}
	return e
}

// Send posts msg as an embed.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]any{
		"embeds": []discordEmbed{toDiscordEmbed(msg)},
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send %s: %w", msg.Event, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: send %s: status %d: %s", msg.Event, resp.StatusCode, respBody)
	}
	return nil
}

// Name returns "discord".
func (d *DiscordSender) Name() string {
	return "discord"
}
