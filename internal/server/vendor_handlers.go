package server

import (
	"encoding/base64"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ugorji/go/codec"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
	"github.com/otaviootavio/nanomoni/internal/crypto"
	"github.com/otaviootavio/nanomoni/internal/payment"
)

// VendorHandler exposes the vendor payment surface.
type VendorHandler struct {
	svc      *payment.Service
	registry *crypto.Registry
}

// NewVendorHandler creates the vendor HTTP handler.
func NewVendorHandler(svc *payment.Service, registry *crypto.Registry) *VendorHandler {
	return &VendorHandler{svc: svc, registry: registry}
}

// Router builds the vendor route table. All POST routes pass the ECDSA
// body-signature middleware.
func (h *VendorHandler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/channel/open", h.handleOpen).Methods(http.MethodPost)
	r.HandleFunc("/channel/{id}/pay/signature", h.handlePaySignature).Methods(http.MethodPost)
	r.HandleFunc("/channel/{id}/pay/payword", h.handlePayPayword).Methods(http.MethodPost)
	r.HandleFunc("/channel/{id}/pay/paytree", h.handlePayPaytree).Methods(http.MethodPost)
	r.HandleFunc("/channel/{id}/close", h.handleClose).Methods(http.MethodPost)
	r.HandleFunc("/channels", h.handleListOpen).Methods(http.MethodGet)
	return ecdsaMiddleware(h.registry, r)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	dec := codec.NewDecoderBytes(body, &jsonHandle)
	return dec.Decode(v)
}

type certificateDTO struct {
	Body         channel.CertificateBody `codec:"body"`
	SignatureB64 string                  `codec:"signature"`
}

type openChannelDTO struct {
	Request      channel.OpenChannelRequest `codec:"request"`
	SignatureB64 string                     `codec:"signature"`
	Certificate  certificateDTO             `codec:"certificate"`
}

func (h *VendorHandler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var dto openChannelDTO
	if err := decodeBody(r, &dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}

	clientSig, err := crypto.SignatureFromBase64(dto.SignatureB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	certSig, err := crypto.SignatureFromBase64(dto.Certificate.SignatureB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}

	ch, err := h.svc.OpenChannel(r.Context(), &payment.OpenChannelInput{
		Request:         dto.Request,
		ClientSignature: clientSig,
		Certificate: channel.Certificate{
			Body:      dto.Certificate.Body,
			Signature: certSig,
		},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	log.Printf("channel %s opened: mode=%s amount=%d", ch.ID, ch.Mode, ch.Amount)
	writeJSON(w, http.StatusCreated, map[string]string{"channel_id": ch.ID})
}

type paySignatureDTO struct {
	CumulativeOwedAmount uint64 `codec:"cumulative_owed_amount"`
	SignatureB64         string `codec:"signature"`
}

func (h *VendorHandler) handlePaySignature(w http.ResponseWriter, r *http.Request) {
	var dto paySignatureDTO
	if err := decodeBody(r, &dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	sig, err := crypto.SignatureFromBase64(dto.SignatureB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}

	ch, err := h.svc.PaySignature(r.Context(), &payment.SignaturePaymentInput{
		ChannelID:            mux.Vars(r)["id"],
		CumulativeOwedAmount: dto.CumulativeOwedAmount,
		ClientSignature:      sig,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"accepted_owed_amount": ch.CumulativeOwed()})
}

type payPaywordDTO struct {
	K        uint64 `codec:"k"`
	TokenB64 string `codec:"token"`
}

func (h *VendorHandler) handlePayPayword(w http.ResponseWriter, r *http.Request) {
	var dto payPaywordDTO
	if err := decodeBody(r, &dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	token, err := base64.StdEncoding.DecodeString(dto.TokenB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}

	ch, err := h.svc.PayPayword(r.Context(), &payment.PaywordPaymentInput{
		ChannelID: mux.Vars(r)["id"],
		K:         dto.K,
		Token:     token,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"accepted_k": ch.State.Index()})
}

type payPaytreeDTO struct {
	I        uint64   `codec:"i"`
	LeafB64  string   `codec:"leaf"`
	ProofB64 []string `codec:"proof"`
}

func (h *VendorHandler) handlePayPaytree(w http.ResponseWriter, r *http.Request) {
	var dto payPaytreeDTO
	if err := decodeBody(r, &dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	leaf, err := base64.StdEncoding.DecodeString(dto.LeafB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	proof := make([][]byte, len(dto.ProofB64))
	for i, p := range dto.ProofB64 {
		proof[i], err = base64.StdEncoding.DecodeString(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed_request")
			return
		}
	}

	ch, err := h.svc.PayPaytree(r.Context(), &payment.PaytreePaymentInput{
		ChannelID: mux.Vars(r)["id"],
		I:         dto.I,
		Leaf:      leaf,
		Proof:     proof,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"accepted_i": ch.State.Index()})
}

type closeChannelDTO struct {
	Statement    channel.ClosingStatement `codec:"statement"`
	SignatureB64 string                   `codec:"signature"`
}

type closeChannelResponse struct {
	ChannelID                 string `codec:"channel_id"`
	ClosedAt                  int64  `codec:"closed_at"`
	FinalCumulativeOwedAmount uint64 `codec:"final_cumulative_owed_amount"`
	SignatureB64              string `codec:"signature"`
}

func (h *VendorHandler) handleClose(w http.ResponseWriter, r *http.Request) {
	var dto closeChannelDTO
	if err := decodeBody(r, &dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	if dto.Statement.ChannelID != mux.Vars(r)["id"] {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}
	sig, err := crypto.SignatureFromBase64(dto.SignatureB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request")
		return
	}

	closed, err := h.svc.CloseChannel(r.Context(), &payment.CloseChannelInput{
		Statement:       dto.Statement,
		ClientSignature: sig,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	log.Printf("channel %s closed: final_owed=%d", closed.Statement.ChannelID, closed.Statement.FinalCumulativeOwedAmount)
	writeJSON(w, http.StatusOK, &closeChannelResponse{
		ChannelID:                 closed.Statement.ChannelID,
		ClosedAt:                  closed.Statement.ClosedAt,
		FinalCumulativeOwedAmount: closed.Statement.FinalCumulativeOwedAmount,
		SignatureB64:              crypto.SignatureToBase64(closed.ClientSignature),
	})
}

func (h *VendorHandler) handleListOpen(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.ListOpenChannels(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"channels": ids})
}
