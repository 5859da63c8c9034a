package server

import (
	"errors"
	"net/http"

	"github.com/ugorji/go/codec"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/issuer"
	"github.com/otaviootavio/nanomoni/internal/payment"
	"github.com/otaviootavio/nanomoni/internal/storage/settlement"
)

var jsonHandle codec.JsonHandle

type errorResponse struct {
	Error string `codec:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := codec.NewEncoder(w, &jsonHandle)
	enc.Encode(v) //nolint:errcheck // headers already sent
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, &errorResponse{Error: code})
}

// errorStatus maps the domain error taxonomy onto HTTP. Validation errors
// are the caller's fault, state errors are ordering conflicts, transient
// errors invite a retry.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, channel.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, channel.ErrInvalidCertificate):
		return http.StatusUnauthorized, "invalid_certificate"
	case errors.Is(err, channel.ErrInvalidToken):
		return http.StatusBadRequest, "invalid_token"
	case errors.Is(err, channel.ErrInvalidProof):
		return http.StatusBadRequest, "invalid_proof"
	case errors.Is(err, channel.ErrInvalidCommitment):
		return http.StatusBadRequest, "invalid_commitment"
	case errors.Is(err, channel.ErrMalformedRequest):
		return http.StatusBadRequest, "malformed_request"
	case errors.Is(err, channel.ErrModeMismatch):
		return http.StatusConflict, "mode_mismatch"
	case errors.Is(err, channel.ErrNonMonotonicIndex):
		return http.StatusConflict, "non_monotonic_index"
	case errors.Is(err, channel.ErrExceedsChannelAmount):
		return http.StatusConflict, "exceeds_channel_amount"
	case errors.Is(err, channel.ErrExceedsIndexCap):
		return http.StatusConflict, "exceeds_index_cap"
	case errors.Is(err, channel.ErrChannelClosed):
		return http.StatusConflict, "channel_closed"
	case errors.Is(err, channel.ErrChannelAlreadyOpen):
		return http.StatusConflict, "channel_already_open"
	case errors.Is(err, channel.ErrChannelNotFound):
		return http.StatusNotFound, "channel_not_found"
	case errors.Is(err, payment.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, payment.ErrIssuerUnreachable):
		return http.StatusServiceUnavailable, "issuer_unreachable"
	case errors.Is(err, issuer.ErrUnknownAccount):
		return http.StatusNotFound, "unknown_account"
	case errors.Is(err, settlement.ErrAccountExists):
		return http.StatusConflict, "account_already_exists"
	case errors.Is(err, crypto.ErrInvalidPublicKey):
		return http.StatusBadRequest, "invalid_public_key"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeError(w, status, code)
}
