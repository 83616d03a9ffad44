package push

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

// ErrInvalidToken means the stored token is not an Expo push token; the
// caller should drop it rather than keep retrying.
var ErrInvalidToken = errors.New("push: not an expo push token")

// Client delivers notifications through the Expo push service.
type Client struct {
	APIURL string
	HTTP   *http.Client
}

func NewClient(apiURL string) *Client {
	if apiURL == "" {
		apiURL = "https://exp.host/--/api/v2/push/send"
	}
	return &Client{
		APIURL: apiURL,
		HTTP:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Notification is one Expo push message.
type Notification struct {
	To       string            `json:"to"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Sound    string            `json:"sound,omitempty"`
	Priority string            `json:"priority,omitempty"`
}

type pushResp struct {
	Data []struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
}

// ValidToken reports whether token looks like an Expo push token.
func ValidToken(token string) bool {
	return (strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")) &&
		strings.HasSuffix(token, "]")
}

// Send delivers one notification and surfaces per-ticket errors.
func (c *Client) Send(ctx context.Context, n Notification) error {
	if !ValidToken(n.To) {
		return ErrInvalidToken
	}
	if n.Sound == "" {
		n.Sound = "default"
	}
	if n.Priority == "" {
		n.Priority = "high"
	}

	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("push: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded pushResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	for _, t := range decoded.Data {
		if t.Status == "error" {
			return fmt.Errorf("push: ticket error: %s", t.Message)
		}
	}
	return nil
}
