package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/RegistryAccord/registryaccord-handles-go/internal/claim"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/handle"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/lookup"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/model"
)

const maxClaimBody = 16 << 10

type claimRequest struct {
	Handle       string `json:"handle"`
	OwnerAddress string `json:"ownerAddress"`
	Message      string `json:"message"`
	Signature    string `json:"signature"`
}

type availabilityResponse struct {
	Handle    string `json:"handle"`
	Available bool   `json:"available"`
}

type handlesOfResponse struct {
	OwnerAddress string   `json:"ownerAddress"`
	Handles      []string `json:"handles"`
}

type messageResponse struct {
	Handle  string `json:"handle"`
	Message string `json:"message"`
	Version int    `json:"version"`
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, codeValidation, "method not allowed", nil)
		return
	}

	var req claimRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxClaimBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		payload := h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "invalid JSON body", nil)
		h.remember(r, w, http.StatusBadRequest, payload)
		return
	}
	if missing := missingClaimFields(req); len(missing) > 0 {
		payload := h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "missing required fields", map[string]any{"fields": missing})
		h.remember(r, w, http.StatusBadRequest, payload)
		return
	}

	res := h.claims.Claim(r.Context(), claim.Request{
		Handle:         req.Handle,
		OwnerAddress:   req.OwnerAddress,
		Message:        req.Message,
		Signature:      req.Signature,
		CallerIdentity: clientIP(r, h.cfg.TrustProxyHeaders),
	})
	incrementClaimOutcome(res.Outcome)

	var (
		status  int
		payload []byte
	)
	switch res.Outcome {
	case claim.Success:
		status = http.StatusCreated
		payload = h.writeSuccess(w, status, model.PublicView{
			Handle:       res.Handle,
			OwnerAddress: res.OwnerAddress,
			ClaimedAt:    res.ClaimedAt,
		}, nil, r)
	case claim.Invalid:
		status = http.StatusBadRequest
		payload = h.writeErrorWithRequest(w, r, status, codeValidation, "invalid claim request", map[string]any{"reason": res.Reason})
	case claim.InvalidSignature:
		status = http.StatusUnauthorized
		payload = h.writeErrorWithRequest(w, r, status, codeAuthn, "signature does not prove ownership of the address", nil)
	case claim.HandleTaken:
		status = http.StatusConflict
		payload = h.writeErrorWithRequest(w, r, status, codeConflict, "handle already claimed", nil)
	case claim.RateLimited:
		status = http.StatusTooManyRequests
		w.Header().Set(headerRetryAfter, retryAfterSeconds(h.cfg.ClaimRateWindow))
		payload = h.writeErrorWithRequest(w, r, status, codeRateLimited, "too many claim attempts, try again later", nil)
	default:
		status = http.StatusInternalServerError
		h.logger.Error("claim failed", "error", res.Err, "correlationId", correlationIDFrom(r.Context()))
		payload = h.writeErrorWithRequest(w, r, status, codeInternal, "internal error", nil)
	}
	h.remember(r, w, status, payload)
}

func missingClaimFields(req claimRequest) []string {
	var missing []string
	if strings.TrimSpace(req.Handle) == "" {
		missing = append(missing, "handle")
	}
	if strings.TrimSpace(req.OwnerAddress) == "" {
		missing = append(missing, "ownerAddress")
	}
	if strings.TrimSpace(req.Signature) == "" {
		missing = append(missing, "signature")
	}
	return missing
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, codeValidation, "method not allowed", nil)
		return
	}
	view, err := h.lookup.Resolve(r.Context(), r.PathValue("handle"))
	if err != nil {
		if errors.Is(err, lookup.ErrNotFound) {
			incrementLookup("resolve", "not_found")
			h.writeErrorWithRequest(w, r, http.StatusNotFound, codeNotFound, "handle not found", nil)
			return
		}
		incrementLookup("resolve", "error")
		h.logger.Error("resolve failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, codeInternal, "internal error", nil)
		return
	}
	incrementLookup("resolve", "found")
	w.Header().Set(headerCacheControl, cacheControlResolve)
	h.writeSuccess(w, http.StatusOK, view, nil, r)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, codeValidation, "method not allowed", nil)
		return
	}
	normalized, available, err := h.lookup.Available(r.Context(), r.PathValue("handle"))
	if err != nil {
		incrementLookup("availability", "error")
		h.logger.Error("availability failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, codeInternal, "internal error", nil)
		return
	}
	incrementLookup("availability", "ok")
	h.writeSuccess(w, http.StatusOK, availabilityResponse{Handle: normalized, Available: available}, nil, r)
}

func (h *Handler) handleHandlesOf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, codeValidation, "method not allowed", nil)
		return
	}
	owner, handles, err := h.lookup.HandlesOf(r.Context(), r.PathValue("address"))
	if err != nil {
		if errors.Is(err, lookup.ErrInvalidAddress) {
			incrementLookup("reverse", "invalid")
			h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "invalid address", nil)
			return
		}
		incrementLookup("reverse", "error")
		h.logger.Error("reverse lookup failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, codeInternal, "internal error", nil)
		return
	}
	if handles == nil {
		handles = []string{}
	}
	incrementLookup("reverse", "ok")
	h.writeSuccess(w, http.StatusOK, handlesOfResponse{OwnerAddress: owner, Handles: handles}, nil, r)
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, codeValidation, "method not allowed", nil)
		return
	}
	normalized := handle.Normalize(r.URL.Query().Get("handle"))
	if err := handle.Validate(normalized); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "invalid handle", map[string]any{"reason": err.Error()})
		return
	}
	h.writeSuccess(w, http.StatusOK, messageResponse{
		Handle:  normalized,
		Message: handle.ClaimMessage(normalized),
		Version: handle.MessageVersion,
	}, map[string]any{"generatedAt": time.Now().UTC()}, r)
}

// clientIP identifies the caller for rate limiting. X-Forwarded-For is only
// honored behind a trusted proxy, and then only its first hop.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
