package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ugorji/go/codec"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/crypto/payword"
	"github.com/otaviootavio/nanomoni/internal/crypto/paytree"
)

// defaultPebbleCount bounds the PayWord checkpoint cache per channel.
const defaultPebbleCount = 64

var jsonHandle codec.JsonHandle

// ChannelClient drives one payment channel against a vendor.
type ChannelClient struct {
	identity  *Identity
	vendorURL string
	http      *http.Client

	channelID string
	mode      channel.Mode
	amount    uint64
	unitValue uint64

	// payword
	tokens *payword.PebbleCache

	// paytree
	tree      *paytree.Tree
	nodeCache *paytree.NodeCache

	lastOwed uint64
}

// Config parameterizes a channel before open.
type Config struct {
	VendorURL     string
	Mode          channel.Mode
	ChannelAmount uint64
	UnitValue     uint64
	// MasterSecret seeds the per-channel payword/paytree secrets.
	// Required for the token modes.
	MasterSecret []byte
	Timeout      time.Duration
}

// NewChannelClient prepares a channel: it computes the channel ID, derives
// the mode secrets and builds the commitment. Nothing touches the network
// until Open.
func NewChannelClient(identity *Identity, cfg Config) (*ChannelClient, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &ChannelClient{
		identity:  identity,
		vendorURL: cfg.VendorURL,
		http:      &http.Client{Timeout: cfg.Timeout},
		channelID: uuid.NewString(),
		mode:      cfg.Mode,
		amount:    cfg.ChannelAmount,
		unitValue: cfg.UnitValue,
	}

	switch cfg.Mode {
	case channel.ModeSignature:
	case channel.ModePayword:
		seed, err := deriveSecret(cfg.MasterSecret, "payword", c.channelID)
		if err != nil {
			return nil, err
		}
		maxK := cfg.ChannelAmount / cfg.UnitValue
		c.tokens, err = payword.NewPebbleCache(seed, maxK, defaultPebbleCount)
		if err != nil {
			return nil, err
		}
	case channel.ModePaytree:
		secret, err := deriveSecret(cfg.MasterSecret, "paytree", c.channelID)
		if err != nil {
			return nil, err
		}
		maxI := cfg.ChannelAmount / cfg.UnitValue
		c.tree, err = paytree.NewTree(secret, c.channelID, maxI)
		if err != nil {
			return nil, err
		}
		c.nodeCache = paytree.NewNodeCache()
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	return c, nil
}

// ChannelID returns the client-computed channel ID.
func (c *ChannelClient) ChannelID() string {
	return c.channelID
}

// commitment returns the mode commitment for the open request.
func (c *ChannelClient) commitment() (rootB64 string, indexCap uint64, err error) {
	switch c.mode {
	case channel.ModeSignature:
		return "", 0, nil
	case channel.ModePayword:
		maxK := c.tokens.MaxK()
		root, err := c.tokens.TokenFor(maxK)
		if err != nil {
			return "", 0, err
		}
		// token_maxK = w_0; the root is maxK hashes above it.
		return base64.StdEncoding.EncodeToString(payword.HashN(root, maxK)), maxK, nil
	default:
		cm := c.tree.Commitment()
		return base64.StdEncoding.EncodeToString(cm.Root), cm.MaxI, nil
	}
}

// Open registers the channel with the vendor using the issuer certificate.
func (c *ChannelClient) Open(ctx context.Context, cert *channel.Certificate) error {
	rootB64, indexCap, err := c.commitment()
	if err != nil {
		return err
	}

	req := channel.OpenChannelRequest{
		ChannelAmount:      c.amount,
		ChannelID:          c.channelID,
		ClientPublicKeyB64: c.identity.PublicKeyB64(),
		CommitmentRootB64:  rootB64,
		IndexCap:           indexCap,
		Mode:               string(c.mode),
		UnitValue:          c.unitValue,
	}
	payload, err := req.CanonicalBytes()
	if err != nil {
		return err
	}
	sig, err := c.identity.Sign(payload)
	if err != nil {
		return err
	}

	body := map[string]interface{}{
		"request":   &req,
		"signature": crypto.SignatureToBase64(sig),
		"certificate": map[string]interface{}{
			"body":      &cert.Body,
			"signature": crypto.SignatureToBase64(cert.Signature),
		},
	}
	return c.post(ctx, "/channel/open", body, nil)
}

// PaySignature sends a cumulative signed owed-amount update.
func (c *ChannelClient) PaySignature(ctx context.Context, owedAmount uint64) error {
	update := channel.SignatureModeUpdate{
		ChannelID:            c.channelID,
		CumulativeOwedAmount: owedAmount,
	}
	payload, err := update.CanonicalBytes()
	if err != nil {
		return err
	}
	sig, err := c.identity.Sign(payload)
	if err != nil {
		return err
	}

	body := map[string]interface{}{
		"cumulative_owed_amount": owedAmount,
		"signature":              crypto.SignatureToBase64(sig),
	}
	if err := c.post(ctx, "/channel/"+c.channelID+"/pay/signature", body, nil); err != nil {
		return err
	}
	c.lastOwed = owedAmount
	return nil
}

// PayPayword reveals the k-th chain token.
func (c *ChannelClient) PayPayword(ctx context.Context, k uint64) error {
	token, err := c.tokens.TokenFor(k)
	if err != nil {
		return err
	}
	body := map[string]interface{}{
		"k":     k,
		"token": base64.StdEncoding.EncodeToString(token),
	}
	if err := c.post(ctx, "/channel/"+c.channelID+"/pay/payword", body, nil); err != nil {
		return err
	}
	c.lastOwed = k * c.unitValue
	return nil
}

// PayPaytree reveals leaf i with its full inclusion proof, and adds the
// proof to the node cache. The proof sent is always full depth; the node
// cache is not used to shorten it.
func (c *ChannelClient) PayPaytree(ctx context.Context, i uint64) error {
	leaf, proof, err := c.tree.Proof(i)
	if err != nil {
		return err
	}

	proofB64 := make([]string, len(proof))
	for idx, p := range proof {
		proofB64[idx] = base64.StdEncoding.EncodeToString(p)
	}
	body := map[string]interface{}{
		"i":     i,
		"leaf":  base64.StdEncoding.EncodeToString(leaf),
		"proof": proofB64,
	}
	if err := c.post(ctx, "/channel/"+c.channelID+"/pay/paytree", body, nil); err != nil {
		return err
	}
	c.nodeCache.AddProof(i, leaf, proof) //nolint:errcheck // proof came from our own tree
	c.lastOwed = i * c.unitValue
	return nil
}

// Close sends the signed closing statement for the current owed amount.
func (c *ChannelClient) Close(ctx context.Context) (*channel.ClosingStatement, error) {
	stmt := channel.ClosingStatement{
		ChannelID:                 c.channelID,
		ClosedAt:                  time.Now().UTC().Unix(),
		FinalCumulativeOwedAmount: c.lastOwed,
	}
	payload, err := stmt.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	sig, err := c.identity.Sign(payload)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"statement": &stmt,
		"signature": crypto.SignatureToBase64(sig),
	}
	if err := c.post(ctx, "/channel/"+c.channelID+"/close", body, nil); err != nil {
		return nil, err
	}
	return &stmt, nil
}

// post sends a signed JSON request; the body signature goes in the headers
// the vendor middleware checks.
func (c *ChannelClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, &jsonHandle)
	if err := enc.Encode(body); err != nil {
		return err
	}

	sig, err := c.identity.Sign(buf)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.vendorURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Public-Key", c.identity.PublicKeyB64())
	req.Header.Set("X-Signature", crypto.SignatureToBase64(sig))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("vendor returned %d: %s", resp.StatusCode, raw)
	}
	if out != nil {
		dec := codec.NewDecoderBytes(raw, &jsonHandle)
		return dec.Decode(out)
	}
	return nil
}
