package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the SendGrid v3 mail send endpoint. The request shape is
// the vendor's contract and must not drift.
type Client struct {
	APIURL    string
	APIKey    string
	FromEmail string
	FromName  string
	HTTP      *http.Client
}

func NewClient(apiKey, fromEmail, fromName string) *Client {
	return &Client{
		APIURL:    "https://api.sendgrid.com/v3/mail/send",
		APIKey:    apiKey,
		FromEmail: fromEmail,
		FromName:  fromName,
		HTTP:      &http.Client{Timeout: 15 * time.Second},
	}
}

type sendReq struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

type personalization struct {
	To []address `json:"to"`
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Send delivers one templated HTML email.
func (c *Client) Send(ctx context.Context, toEmail, subject, htmlBody string) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("sendgrid: api key is required")
	}

	body := sendReq{
		Personalizations: []personalization{{To: []address{{Email: toEmail}}}},
		From:             address{Email: c.FromEmail, Name: c.FromName},
		Subject:          subject,
		Content:          []content{{Type: "text/html", Value: htmlBody}},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// SendWelcome delivers the account-created email.
func (c *Client) SendWelcome(ctx context.Context, toEmail string) error {
	return c.Send(ctx, toEmail, "Welcome to Pinky Pill", welcomeHTML())
}

// SendPasswordReset delivers the branded password-reset email.
func (c *Client) SendPasswordReset(ctx context.Context, toEmail, confirmLink string) error {
	return c.Send(ctx, toEmail, "Reset your password | Pinky Pill", passwordResetHTML(confirmLink))
}
