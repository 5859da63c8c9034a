package server

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/issuer"
)

// IssuerHandler exposes the issuer registration and key surface.
type IssuerHandler struct {
	svc      *issuer.Service
	registry *crypto.Registry
}

// NewIssuerHandler creates the issuer HTTP handler.
func NewIssuerHandler(svc *issuer.Service, registry *crypto.Registry) *IssuerHandler {
	return &IssuerHandler{svc: svc, registry: registry}
}

// Router builds the issuer route table. Registration is the bootstrap of
// a client identity, so it is exempt from the body-signature middleware;
// certificate requests prove key possession through it.
func (h *IssuerHandler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/issuer/public_key", h.handlePublicKey).Methods(http.MethodGet)
	r.HandleFunc("/issuer/accounts", h.handleRegister).Methods(http.MethodPost)

	certs := r.PathPrefix("/issuer/certificates").Subrouter()
	certs.Use(func(next http.Handler) http.Handler {
		return ecdsaMiddleware(h.registry, next)
	})
	certs.HandleFunc("", h.handleIssueCertificate).Methods(http.MethodPost)
	return r
}

func (h *IssuerHandler) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"public_key": crypto.PublicKeyToBase64(h.svc.PublicKeyDER()),
	})
}

type registerDTO struct {
	ClientPublicKeyB64 string `codec:"client_public_key"`
	InitialBalance     uint64 `codec:"initial_balance"`
}

type certificateResponse struct {
	Body         interface{} `codec:"body"`
	SignatureB64 string      `codec:"signature"`
}

func (h *IssuerHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var dto registerDTO
	if err := decodeBody(r, &dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	key, err := crypto.PublicKeyFromBase64(dto.ClientPublicKeyB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_public_key")
		return
	}

	cert, err := h.svc.RegisterAccount(r.Context(), key, dto.InitialBalance)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	log.Printf("account registered: %s balance=%d", crypto.CalcFingerprint(key), dto.InitialBalance)
	writeJSON(w, http.StatusCreated, &certificateResponse{
		Body:         cert.Body,
		SignatureB64: crypto.SignatureToBase64(cert.Signature),
	})
}

type issueCertificateDTO struct {
	ClientPublicKeyB64 string `codec:"client_public_key"`
}

func (h *IssuerHandler) handleIssueCertificate(w http.ResponseWriter, r *http.Request) {
	var dto issueCertificateDTO
	if err := decodeBody(r, &dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	key, err := crypto.PublicKeyFromBase64(dto.ClientPublicKeyB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_public_key")
		return
	}

	cert, err := h.svc.IssueCertificate(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &certificateResponse{
		Body:         cert.Body,
		SignatureB64: crypto.SignatureToBase64(cert.Signature),
	})
}
