package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// dlqEntry is a request that failed after all retries, kept for an operator.
type dlqEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Route     string    `json:"route"`
	Caller    string    `json:"caller,omitempty"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error"`
}

func (s *Server) writeDLQ(entry dlqEntry) {
	dir := s.cfg.Service.DLQPath
	if dir == "" {
		return
	}
	entry.Timestamp = time.Now().UTC()

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		s.logger.Error("dlq marshal", "err", err)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Error("dlq mkdir", "dir", dir, "err", err)
		return
	}

	name := fmt.Sprintf("%d-%s.json", entry.Timestamp.UnixNano(), entry.Route)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		s.logger.Error("dlq write", "err", err)
	}
	s.updateDLQDepth()
}

func (s *Server) updateDLQDepth() int {
	depth := s.currentDLQDepth()
	s.metrics.setDLQDepth(depth)
	return depth
}

func (s *Server) currentDLQDepth() int {
	dir := s.cfg.Service.DLQPath
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("dlq read", "dir", dir, "err", err)
		}
		return 0
	}
	return len(entries)
}
