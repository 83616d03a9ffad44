package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client uploads objects to the hosted storage service. The REST shape
// (upload path, x-upsert header, public URL layout) is the vendor's
// contract.
type Client struct {
	BaseURL    string
	ServiceKey string
	HTTP       *http.Client
}

func NewClient(baseURL, serviceKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ServiceKey: serviceKey,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload writes an object and returns its public URL.
func (c *Client) Upload(ctx context.Context, bucket, name, contentType string, data []byte) (string, error) {
	if c.BaseURL == "" {
		return "", errors.New("storage: base url is required")
	}

	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.BaseURL, bucket, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.ServiceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return "", fmt.Errorf("storage: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return c.PublicURL(bucket, name), nil
}

// UploadBase64 decodes a base64 payload (as sent by the app's image picker)
// and uploads it.
func (c *Client) UploadBase64(ctx context.Context, bucket, name, contentType, b64 string) (string, error) {
	// tolerate data-url prefixes like "data:image/jpeg;base64,"
	if i := strings.Index(b64, ","); i >= 0 && strings.Contains(b64[:i], "base64") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("storage: decode image: %w", err)
	}
	return c.Upload(ctx, bucket, name, contentType, data)
}

func (c *Client) PublicURL(bucket, name string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.BaseURL, bucket, name)
}
