package server

import (
	"context"
	"net/http"
	"time"
)

type componentHealth struct {
	Connected bool    `json:"connected"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string          `json:"status"`
	RPC        componentHealth `json:"rpc"`
	Database   componentHealth `json:"database"`
	QueueDepth int             `json:"queue_depth"`
}

func checkComponent(ctx context.Context, fn func(context.Context) error) componentHealth {
	if fn == nil {
		return componentHealth{Connected: true}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		return componentHealth{Error: err.Error()}
	}
	return componentHealth{
		Connected: true,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "healthy",
		RPC:        checkComponent(r.Context(), s.escrow.Ping),
		Database:   checkComponent(r.Context(), s.dbHealthFn),
		QueueDepth: s.updateDLQDepth(),
	}

	status := http.StatusOK
	if !resp.RPC.Connected || !resp.Database.Connected {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
