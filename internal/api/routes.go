package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/devprobe-project/devprobe/internal/cli"
	"github.com/devprobe-project/devprobe/internal/db"
	"github.com/devprobe-project/devprobe/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "devprobe",
	})
}

// handleStatus returns the client configuration, listener state, traffic
// counters and host information.
func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"peer":            s.deps.Client.Peer.String(),
		"auto_pong_reply": s.deps.Client.AutoPongReply,
		"journal_enabled": s.deps.History != nil,
		"host":            s.host,
	}
	if s.deps.Listener != nil {
		resp["listener_state"] = s.deps.Listener.State().String()
	}
	if s.deps.Stats != nil {
		resp["stats"] = s.deps.Stats.Snapshot()
	}
	if usage, err := util.GetProcessUsage(); err == nil {
		resp["process"] = usage
	}

	c.JSON(http.StatusOK, resp)
}

// handleMessages returns the most recent journal entries, newest first.
func (s *Server) handleMessages(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal is disabled"})
		return
	}

	limit := db.DefaultRecentLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := s.deps.History.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []db.Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": entries,
		"count":    len(entries),
	})
}

// handleSend sends one message, named like the interactive command.
func (s *Server) handleSend(c *gin.Context) {
	command := c.Param("command")
	msgType, ok := cli.LookupSendCommand(command)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command", "command": command})
		return
	}

	if err := s.deps.Sender.Send(c.Request.Context(), msgType, false); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"sent": msgType.String(),
		"to":   s.deps.Client.Peer.String(),
	})
}
