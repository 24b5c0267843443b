package http

import (
	"context"
	"net/http"
	"time"

	"tavola/internal/log"
	"tavola/internal/middleware/ratelimit"
	"tavola/internal/middleware/security"
	"tavola/internal/middleware/trace"
)

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports 503 until the database answers within two seconds.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.directory.Ping(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err.Error())
		writeJSONError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type cacheMetrics struct {
	Size      int    `json:"size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type metricsResponse struct {
	Cache     *cacheMetrics             `json:"cache,omitempty"`
	HTTP      trace.Metrics             `json:"http"`
	RateLimit ratelimit.Metrics         `json:"rate_limit"`
	Security  security.DetectionMetrics `json:"security"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	out := metricsResponse{
		HTTP:      s.tracer.GetMetrics(),
		RateLimit: s.limiter.GetMetrics(),
		Security:  s.detector.GetMetrics(),
	}
	if s.cacheStats != nil {
		st := s.cacheStats()
		out.Cache = &cacheMetrics{Size: st.Size, Hits: st.Hits, Misses: st.Misses, Evictions: st.Evictions}
	}
	writeJSON(w, http.StatusOK, out)
}
