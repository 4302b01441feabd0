package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ocx/zkauth/internal/auth"
	"github.com/ocx/zkauth/internal/zkp"
)

// maxBodyBytes bounds request bodies; the largest legitimate field is a
// 1536-bit integer in hex (384 chars).
const maxBodyBytes = 8 * 1024

// Handlers holds the auth endpoints.
type Handlers struct {
	svc      *auth.Service
	validate *validator.Validate
}

// NewHandlers wires the endpoints to the facade.
func NewHandlers(svc *auth.Service) *Handlers {
	return &Handlers{svc: svc, validate: newValidator()}
}

// decode parses and validates a JSON body into req.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request fields")
		return false
	}
	return true
}

// HandleRegister implements POST /api/v1/auth/register.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.Register(r.Context(), req.Username, req.PublicKeyY, req.Salt)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{
		UserID:    res.UserID,
		Username:  res.Username,
		CreatedAt: res.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// HandleChallenge implements POST /api/v1/auth/challenge. Well-formed input
// always yields 200, registered user or not.
func (h *Handlers) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.Challenge(r.Context(), req.Username, req.ClientR)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	gr := h.svc.Group()
	writeJSON(w, http.StatusOK, ChallengeResponse{
		ChallengeID: res.ChallengeID,
		C:           zkp.EncodeHex(res.C),
		P:           gr.PHex(),
		Q:           gr.QHex(),
		G:           gr.GHex(),
	})
}

// HandleVerify implements POST /api/v1/auth/verify. Every authentication
// failure collapses to the same 401 body.
func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.Verify(r.Context(), req.ChallengeID, req.S, req.ClientR, req.Username)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{
		Token:     res.Token,
		Type:      res.TokenType,
		Username:  res.Username,
		ExpiresIn: res.ExpiresIn,
	})
}

// writeServiceError maps the facade taxonomy onto HTTP. Messages never carry
// internal reason codes.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case auth.IsAuthFailure(err):
		writeError(w, http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, auth.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid request fields")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, http.StatusConflict, "username already exists")
	default:
		slog.Error("Auth request failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:      statusCode(status),
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}
