package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/boliseva-loan-ledger/internal/commands"
	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/ledger"
)

// LedgerCommands is the part of the command facade served over HTTP
type LedgerCommands interface {
	SubmitLoan(ctx context.Context, draft loan.Draft) commands.Result[*loan.Loan]
	GetLoan(ctx context.Context, loanID string) commands.Result[*loan.Loan]
	GetLoansByUser(ctx context.Context, userID string) commands.Result[[]*loan.Loan]
	GetLoansByStatus(ctx context.Context, status string) commands.Result[[]*loan.Loan]
	SetLoanStatus(ctx context.Context, loanID, status string) commands.Result[*loan.Loan]
	GetEMIsByUser(ctx context.Context, userID string) commands.Result[[]*emi.EMI]
	GetEMIsByLoan(ctx context.Context, loanID string) commands.Result[[]*emi.EMI]
	PayEMI(ctx context.Context, emiID, method string) commands.Result[*emi.EMI]
	SweepOverdue(ctx context.Context) commands.Result[int64]
	BackfillMissingEMIs(ctx context.Context, userID string) commands.Result[int]
	Dashboard(ctx context.Context, userID string) commands.Result[*ledger.Dashboard]
	Quote(principal int64, annualRate float64, tenure int) commands.Result[*ledger.Quote]
}

// LoanHandler serves loans and installments
type LoanHandler struct {
	cmds   LedgerCommands
	logger *slog.Logger
}

func NewLoanHandler(logger *slog.Logger, cmds LedgerCommands) *LoanHandler {
	return &LoanHandler{
		cmds:   cmds,
		logger: logger,
	}
}

// Submit handles a new loan application
func (h *LoanHandler) Submit(c *gin.Context) {
	var req SubmitLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid loan application body", "error", err)
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	respond(c, http.StatusCreated, h.cmds.SubmitLoan(c.Request.Context(), req.draft()))
}

func (h *LoanHandler) GetByID(c *gin.Context) {
	respond(c, http.StatusOK, h.cmds.GetLoan(c.Request.Context(), c.Param("id")))
}

func (h *LoanHandler) ListByStatus(c *gin.Context) {
	var q LoansQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		RespondBadRequest(c, "status query parameter is required")
		return
	}
	respond(c, http.StatusOK, h.cmds.GetLoansByStatus(c.Request.Context(), q.Status))
}

func (h *LoanHandler) SetStatus(c *gin.Context) {
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	respond(c, http.StatusOK, h.cmds.SetLoanStatus(c.Request.Context(), c.Param("id"), req.Status))
}

func (h *LoanHandler) EMIsOfLoan(c *gin.Context) {
	respond(c, http.StatusOK, h.cmds.GetEMIsByLoan(c.Request.Context(), c.Param("id")))
}

func (h *LoanHandler) LoansOfUser(c *gin.Context) {
	respond(c, http.StatusOK, h.cmds.GetLoansByUser(c.Request.Context(), c.Param("user_id")))
}

func (h *LoanHandler) EMIsOfUser(c *gin.Context) {
	respond(c, http.StatusOK, h.cmds.GetEMIsByUser(c.Request.Context(), c.Param("user_id")))
}

func (h *LoanHandler) Dashboard(c *gin.Context) {
	respond(c, http.StatusOK, h.cmds.Dashboard(c.Request.Context(), c.Param("user_id")))
}

func (h *LoanHandler) Backfill(c *gin.Context) {
	respond(c, http.StatusOK, h.cmds.BackfillMissingEMIs(c.Request.Context(), c.Param("user_id")))
}

// PayEMI records the payment of one installment
func (h *LoanHandler) PayEMI(c *gin.Context) {
	var req PayEMIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	respond(c, http.StatusOK, h.cmds.PayEMI(c.Request.Context(), c.Param("id"), req.PaymentMethod))
}

func (h *LoanHandler) SweepOverdue(c *gin.Context) {
	respond(c, http.StatusOK, h.cmds.SweepOverdue(c.Request.Context()))
}

// Quote previews the installments of prospective terms
func (h *LoanHandler) Quote(c *gin.Context) {
	var q QuoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		RespondBadRequest(c, "invalid quote parameters: "+err.Error())
		return
	}
	respond(c, http.StatusOK, h.cmds.Quote(q.Principal, q.AnnualRate, q.TenureMonths))
}
