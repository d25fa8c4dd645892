package bus

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPPublisher POSTs signed event envelopes to a single sink URL.
type HTTPPublisher struct {
	url    string
	secret string
	client *http.Client
}

type HTTPOption func(*HTTPPublisher)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPPublisher) {
		p.client = c
	}
}

func NewHTTPPublisher(url, secret string, opts ...HTTPOption) *HTTPPublisher {
	p := &HTTPPublisher{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignPayload computes an HMAC-SHA256 signature of the payload using the
// given secret, hex encoded.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by SignPayload.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (p *HTTPPublisher) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Signature", "sha256="+SignPayload(payload, p.secret))
	req.Header.Set("X-Event-ID", env.OutboxID)
	req.Header.Set("X-Event-Timestamp", time.Now().UTC().Format(time.RFC3339))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	// Drain at most 1KB so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("event sink returned %d", resp.StatusCode)
	}
	return nil
}
