package api

import (
	"net/http"
	"time"

	"orderflow/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build":     buildinfo.Info(),
		"time":      time.Now().UTC().Format(time.RFC3339),
		"config":    s.Info,
		"playbacks": s.Coord.Engine().Running(),
	})
}
