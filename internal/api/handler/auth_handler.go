package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/boliseva-loan-ledger/internal/commands"
	"github.com/boliseva-loan-ledger/internal/ledger/login"
)

// AuthCommands is the OTP part of the command facade
type AuthCommands interface {
	IsOtpLimited(ctx context.Context, phone string) commands.Result[bool]
	RecordOtpAttempt(ctx context.Context, phone string) commands.Result[struct{}]
	RequestOTP(ctx context.Context, phone string) commands.Result[*login.Issued]
	VerifyOTP(ctx context.Context, phone, code string) commands.Result[bool]
}

// AuthHandler serves OTP login
type AuthHandler struct {
	cmds   AuthCommands
	logger *slog.Logger
}

func NewAuthHandler(logger *slog.Logger, cmds AuthCommands) *AuthHandler {
	return &AuthHandler{
		cmds:   cmds,
		logger: logger,
	}
}

func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req PhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "phone is required")
		return
	}
	respond(c, http.StatusCreated, h.cmds.RequestOTP(c.Request.Context(), req.Phone))
}

func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "phone and code are required")
		return
	}
	respond(c, http.StatusOK, h.cmds.VerifyOTP(c.Request.Context(), req.Phone, req.Code))
}

// Limit reports whether the phone has used up its attempts
func (h *AuthHandler) Limit(c *gin.Context) {
	phone := c.Query("phone")
	result := h.cmds.IsOtpLimited(c.Request.Context(), phone)
	respond(c, http.StatusOK, commands.Result[LimitResponse]{
		Success:   result.Success,
		Degraded:  result.Degraded,
		Stale:     result.Stale,
		ErrorKind: result.ErrorKind,
		Message:   result.Message,
		Data:      LimitResponse{Phone: phone, Limited: result.Data},
	})
}

// RecordAttempt counts an attempt made outside RequestOTP
func (h *AuthHandler) RecordAttempt(c *gin.Context) {
	var req PhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "phone is required")
		return
	}
	result := h.cmds.RecordOtpAttempt(c.Request.Context(), req.Phone)
	if result.Success {
		c.Status(http.StatusNoContent)
		return
	}
	respond(c, http.StatusNoContent, result)
}
