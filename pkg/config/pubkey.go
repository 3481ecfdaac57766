package config

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// keyDiscoveryResponse is the shape of the remote key-discovery endpoint
// (the Tapis tenants API).
type keyDiscoveryResponse struct {
	Result struct {
		PublicKey string `json:"public_key"`
		Status    string `json:"status"`
	} `json:"result"`
}

// ResolvePublicKey returns the RSA public key used for token verification.
// A configured PEM literal wins; otherwise the key is fetched once from the
// discovery endpoint. Called at startup only.
func (c *Config) ResolvePublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	pem := c.PublicKey
	if pem == "" {
		if c.PublicKeyURL == "" {
			return nil, fmt.Errorf("could not determine public key; set one of public_key or public_key_url")
		}
		fetched, err := fetchPublicKey(ctx, c.PublicKeyURL)
		if err != nil {
			return nil, err
		}
		pem = fetched
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(normalizePEM(pem)))
	if err != nil {
		return nil, fmt.Errorf("parsing RSA public key from PEM: %w", err)
	}
	return key, nil
}

func fetchPublicKey(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("building key discovery request: %w", err)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching public key from %s: %w", uri, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("key discovery endpoint %s returned status %d", uri, resp.StatusCode)
	}
	var body keyDiscoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("parsing key discovery response: %w", err)
	}
	if body.Result.PublicKey == "" {
		return "", fmt.Errorf("key discovery response from %s had no public key", uri)
	}
	return body.Result.PublicKey, nil
}

// normalizePEM reflows a PEM public key whose line breaks were lost in
// transit. RFC 1421 §4.3.2.4 requires the base64 body in 64-character
// lines; keys delivered through JSON or environment variables often arrive
// as a single line.
func normalizePEM(pem string) string {
	const (
		header = "-----BEGIN PUBLIC KEY-----"
		footer = "-----END PUBLIC KEY-----"
	)
	trimmed := strings.TrimSpace(pem)
	if !strings.HasPrefix(trimmed, header) || !strings.HasSuffix(trimmed, footer) {
		return pem
	}
	body := strings.TrimSuffix(strings.TrimPrefix(trimmed, header), footer)
	body = strings.Join(strings.Fields(body), "")

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for len(body) > 64 {
		b.WriteString(body[:64])
		b.WriteString("\n")
		body = body[64:]
	}
	if len(body) > 0 {
		b.WriteString(body)
		b.WriteString("\n")
	}
	b.WriteString(footer)
	b.WriteString("\n")
	return b.String()
}
