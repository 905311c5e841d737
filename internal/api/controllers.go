package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"webhook-trader/internal/pipeline"
	"webhook-trader/internal/registry"
	"webhook-trader/internal/signal"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

// webhookTV ingests the upstream alert template. Accepted signals settle
// asynchronously; the response only acknowledges queueing.
func (s *Server) webhookTV(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)

	var raw signal.RawAlert
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	intent, err := s.Pipeline.Submit(raw)
	if err != nil {
		s.rejectSubmit(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "accepted",
		"intent_id": intent.ID,
	})
}

// webhookRaw records arbitrary payloads for debugging alert templates.
// Nothing is parsed or dispatched.
func (s *Server) webhookRaw(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "unreadable body",
		})
		return
	}
	const preview = 512
	msg := string(body)
	if len(msg) > preview {
		msg = msg[:preview] + "..."
	}
	s.Activity.Info("raw webhook received (%d bytes): %s", len(body), msg)
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded", "bytes": len(body)})
}

// testSignal runs the manual test command through the pipeline under the
// built-in manual strategy.
func (s *Server) testSignal(c *gin.Context) {
	var req struct {
		Action string        `json:"action"`
		Pair   string        `json:"pair"`
		Price  signal.Number `json:"price"`
		Qty    signal.Number `json:"qty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	intent, err := s.Pipeline.SubmitManual(req.Action, req.Pair, req.Price, req.Qty)
	if err != nil {
		s.rejectSubmit(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "accepted",
		"intent_id": intent.ID,
	})
}

func (s *Server) rejectSubmit(c *gin.Context, err error) {
	if pe, ok := signal.AsParseError(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  string(pe.Reason),
			"error": pe.Detail,
		})
		return
	}
	if errors.Is(err, pipeline.ErrClosed) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "SHUTTING_DOWN",
			"error": "pipeline is shutting down",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":  "INTERNAL_ERROR",
		"error": err.Error(),
	})
}

// toggleStrategy flips a strategy between Active and Paused.
func (s *Server) toggleStrategy(c *gin.Context) {
	id := c.Param("id")
	state, err := s.Registry.Toggle(c.Request.Context(), id)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "STRATEGY_NOT_FOUND",
			"error": "strategy not found",
		})
	case errors.Is(err, registry.ErrManualLocked):
		c.JSON(http.StatusConflict, gin.H{
			"code":  "MANUAL_LOCKED",
			"error": "the manual strategy cannot be toggled",
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
	default:
		log.Printf("[API] strategy %s set to %s by user %s", id, state, CurrentUserID(c))
		c.JSON(http.StatusOK, gin.H{
			"strategy_id": id,
			"state":       state,
		})
	}
}

// getStrategies lists registered strategies with run state and performance.
func (s *Server) getStrategies(c *gin.Context) {
	strategies := s.Registry.List()
	c.JSON(http.StatusOK, gin.H{
		"strategies": strategies,
		"count":      len(strategies),
	})
}

// getSignals returns recent ledger outcomes, newest first.
func (s *Server) getSignals(c *gin.Context) {
	outcomes := s.Ledger.Recent(queryLimit(c, 50))
	c.JSON(http.StatusOK, gin.H{
		"signals": outcomes,
		"count":   len(outcomes),
		"seq":     s.Ledger.Seq(),
	})
}

// getActivity returns recent activity records, newest first.
func (s *Server) getActivity(c *gin.Context) {
	records := s.Activity.Recent(queryLimit(c, 50))
	c.JSON(http.StatusOK, gin.H{
		"activity": records,
		"count":    len(records),
	})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	status := gin.H{
		"venue":           s.Meta.Venue,
		"version":         s.Meta.Version,
		"uptime_seconds":  int64(time.Since(s.Meta.StartedAt).Seconds()),
		"dedup_window_ms": s.Meta.DedupWindow.Milliseconds(),
		"strategies":      len(s.Registry.List()),
		"ledger_seq":      s.Ledger.Seq(),
		"activity_len":    s.Activity.Len(),
		"bus_dropped":     s.Bus.Dropped(),
	}
	if s.Gateway != nil {
		balances := make(map[string]string)
		for asset, amount := range s.Gateway.Balances() {
			balances[asset] = amount.String()
		}
		status["paper_balances"] = balances
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func queryLimit(c *gin.Context, def int) int {
	v := c.Query("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
