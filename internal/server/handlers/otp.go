package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/scaffoldir/scaffoldir/internal/errors"
	"github.com/scaffoldir/scaffoldir/internal/metrics"
	"github.com/scaffoldir/scaffoldir/internal/otp"
	"github.com/scaffoldir/scaffoldir/internal/server/middleware"
)

const maxBodyBytes = 4 << 10

type OTPRequest struct {
	Email string `json:"email"`
}

type OTPRequestResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	ExpiresAt string `json:"expires_at"`
}

type OTPVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type OTPVerifyResponse struct {
	Status string `json:"status"`
}

// OTPHandler serves code issuance and verification.
type OTPHandler struct {
	Service *otp.Service
	Logger  interface {
		Info(msg string, fields ...zap.Field)
	}
}

// Request handles POST /api/v1/otp.
func (h *OTPHandler) Request(w http.ResponseWriter, r *http.Request) {
	var body OTPRequest
	if err := decodeBody(r, &body); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Ungültige Anfrage."))
		return
	}

	issued, err := h.Service.Request(r.Context(), middleware.ClientIP(r), body.Email)
	if err != nil {
		var limited *otp.RateLimitedError
		switch {
		case errors.As(err, &limited):
			metrics.RecordRateLimitDecision(otp.Operation, false)
			middleware.WriteRateLimited(w, r, limited.Decision)
		case errors.Is(err, otp.ErrInvalidEmail):
			respondWithError(w, r, apperrors.NewInvalidInputError("Bitte eine gültige E-Mail-Adresse angeben."))
		default:
			respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, apperrors.MessageInternal))
		}
		return
	}

	metrics.RecordRateLimitDecision(otp.Operation, true)
	metrics.RecordOTPIssued()
	middleware.SetRateLimitHeaders(w, issued.Decision)
	writeJSON(w, http.StatusAccepted, OTPRequestResponse{
		Status:    "sent",
		RequestID: issued.RequestID,
		ExpiresAt: issued.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// Verify handles POST /api/v1/otp/verify.
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var body OTPVerifyRequest
	if err := decodeBody(r, &body); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Ungültige Anfrage."))
		return
	}

	err := h.Service.Verify(body.Email, body.Code)
	metrics.RecordOTPVerification(err == nil)
	if err != nil {
		if errors.Is(err, otp.ErrInvalidCode) || errors.Is(err, otp.ErrInvalidEmail) {
			respondWithError(w, r, apperrors.NewUnauthorizedError("Code ungültig oder abgelaufen."))
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, apperrors.MessageInternal))
		return
	}

	writeJSON(w, http.StatusOK, OTPVerifyResponse{Status: "verified"})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
