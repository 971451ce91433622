package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/boliseva-loan-ledger/internal/commands"
	"github.com/boliseva-loan-ledger/internal/ledger/queue"
)

// SyncCommands exposes the sync queue
type SyncCommands interface {
	DrainQueue(ctx context.Context) commands.Result[queue.Report]
	QueueStatus(ctx context.Context) commands.Result[queue.Stats]
}

// SyncHandler lets an operator inspect and flush the sync queue
type SyncHandler struct {
	cmds SyncCommands
}

func NewSyncHandler(cmds SyncCommands) *SyncHandler {
	return &SyncHandler{cmds: cmds}
}

func (h *SyncHandler) Drain(c *gin.Context) {
	respond(c, http.StatusOK, h.cmds.DrainQueue(c.Request.Context()))
}

func (h *SyncHandler) Status(c *gin.Context) {
	respond(c, http.StatusOK, h.cmds.QueueStatus(c.Request.Context()))
}
