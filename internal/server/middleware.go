package server

import (
	"bytes"
	"io"
	"net/http"

	"github.com/otaviootavio/nanomoni/internal/crypto"
)

// Request headers carrying the caller's identity and proof. The signature
// is a DER ECDSA signature over the exact request body bytes.
const (
	HeaderPublicKey = "X-Public-Key"
	HeaderSignature = "X-Signature"
)

// maxBodyBytes bounds request bodies; PayTree proofs stay well below this.
const maxBodyBytes = 1 << 20

// ecdsaMiddleware verifies the body signature of every mutating request
// and rejects unverifiable callers before any handler runs. Handlers
// downstream can trust that the body they decode is exactly what the
// holder of the header key signed.
func ecdsaMiddleware(registry *crypto.Registry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		publicKey, err := crypto.PublicKeyFromBase64(r.Header.Get(HeaderPublicKey))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_public_key")
			return
		}
		signature, err := crypto.SignatureFromBase64(r.Header.Get(HeaderSignature))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_signature")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed_request")
			return
		}
		r.Body.Close()

		if !registry.VerifyAuto(publicKey, crypto.Digest(body), signature) {
			writeError(w, http.StatusUnauthorized, "invalid_signature")
			return
		}

		// Replay the body for the handler.
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
