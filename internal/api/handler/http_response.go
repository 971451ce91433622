package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/boliseva-loan-ledger/internal/api/middleware"
	"github.com/boliseva-loan-ledger/internal/commands"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

// Response is the envelope of every API response
type Response struct {
	Data          any        `json:"data,omitempty"`
	Error         *ErrorInfo `json:"error,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Meta          *MetaInfo  `json:"meta,omitempty"`
}

// ErrorInfo describes a failed request
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MetaInfo tells the caller how fresh the data is
type MetaInfo struct {
	Degraded bool `json:"degraded"` // Kept locally, waiting to sync
	Stale    bool `json:"stale"`    // Served from the local cache
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind shared.ErrorKind) int {
	switch kind {
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindInvalidTransition, shared.KindBusy:
		return http.StatusConflict
	case shared.KindRateLimited:
		return http.StatusTooManyRequests
	case shared.KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respond writes a command result. A mutation that could only be stored locally answers
// 202 Accepted instead of the given success status.
func respond[T any](c *gin.Context, status int, result commands.Result[T]) {
	if !result.Success {
		RespondWithError(c, statusFor(result.ErrorKind), string(result.ErrorKind), result.Message)
		return
	}

	if result.Degraded && c.Request.Method != http.MethodGet {
		status = http.StatusAccepted
	}

	response := &Response{
		Data:          result.Data,
		CorrelationID: middleware.GetCorrelationID(c),
	}
	if result.Degraded || result.Stale {
		response.Meta = &MetaInfo{Degraded: result.Degraded, Stale: result.Stale}
	}
	c.JSON(status, response)
}

// RespondWithError sends the error envelope
func RespondWithError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, &Response{
		Error:         &ErrorInfo{Code: code, Message: message},
		CorrelationID: middleware.GetCorrelationID(c),
	})
}

// RespondBadRequest rejects a request that could not be bound
func RespondBadRequest(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadRequest, string(shared.KindValidation), message)
}
