package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/otaviootavio/nanomoni/internal/crypto"
)

// ErrUnreachable indicates the issuer could not be contacted. It is the
// only transient failure this client reports.
var ErrUnreachable = errors.New("issuer unreachable")

// Client talks to the issuer's HTTP surface. The vendor only ever needs
// the public key endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an issuer HTTP client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type publicKeyResponse struct {
	PublicKeyB64 string `json:"public_key"`
}

// FetchPublicKey retrieves and validates the issuer's DER public key.
func (c *Client) FetchPublicKey(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/issuer/public_key", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var pk publicKeyResponse
	if err := json.Unmarshal(body, &pk); err != nil {
		return nil, fmt.Errorf("issuer returned malformed public key response: %w", err)
	}
	return crypto.PublicKeyFromBase64(pk.PublicKeyB64)
}
