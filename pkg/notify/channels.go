package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"

	"lifeline/pkg/models"
)

// SMSChannel posts alerts to an SMS gateway HTTP API (the gateway owns carrier
// delivery; we only record accept/reject).
type SMSChannel struct {
	GatewayURL string
	APIKey     string
	Client     *http.Client
}

func (c *SMSChannel) Name() string { return "sms" }

func (c *SMSChannel) Send(ctx context.Context, msg Message) error {
	payload, _ := json.Marshal(map[string]string{
		"to":      msg.Target,
		"message": msg.Body,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return models.Notifyf(err, "sms request build")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return models.Notifyf(err, "sms gateway call")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return models.Notifyf(nil, "sms gateway status %d", resp.StatusCode)
	}
	return nil
}

func (c *SMSChannel) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// EmailChannel delivers alerts over SMTP.
type EmailChannel struct {
	Addr string // host:port
	From string
	Auth smtp.Auth
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return models.Notifyf(err, "email cancelled")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		c.From, msg.Target, msg.Subject, msg.Body)
	if err := smtp.SendMail(c.Addr, c.Auth, c.From, []string{msg.Target}, []byte(b.String())); err != nil {
		return models.Notifyf(err, "smtp send to %s", msg.Target)
	}
	return nil
}

// WebhookChannel posts the alert as JSON to a contact-supplied URL. Also used
// for the authority-notification integration point.
type WebhookChannel struct {
	Client *http.Client
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	payload, _ := json.Marshal(map[string]string{
		"subject": msg.Subject,
		"body":    msg.Body,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Target, bytes.NewReader(payload))
	if err != nil {
		return models.Notifyf(err, "webhook request build")
	}
	req.Header.Set("Content-Type", "application/json")
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Notifyf(err, "webhook call")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return models.Notifyf(nil, "webhook status %d", resp.StatusCode)
	}
	return nil
}
