package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// snapshotPushInterval paces the websocket stream; snapshots are pure
// functions of time, so pushing faster only burns bandwidth.
const snapshotPushInterval = 2 * time.Second

func (r *Router) handleTrackingLive(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	snaps, err := r.tracker.Live(req.Context())
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// handleTrackingSocket streams live snapshots over a websocket until the
// client disconnects. Each frame is the full snapshot list.
func (r *Router) handleTrackingSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	r.logger.Info().Str("remote", req.RemoteAddr).Msg("Tracking client connected")

	// Drain client frames so pings and close messages are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(snapshotPushInterval)
	defer ticker.Stop()

	for {
		snaps, err := r.tracker.Live(req.Context())
		if err != nil {
			r.logger.Warn().Err(err).Msg("Dropping tracking frame")
		} else if err := conn.WriteJSON(map[string]any{
			"type": "tracking",
			"data": snaps,
		}); err != nil {
			return
		}

		select {
		case <-done:
			return
		case <-req.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Router) handleGreenWaveStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_waves": r.greenWave.ActiveWaves(),
	})
}

func (r *Router) handleIntersections(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.greenWave.Catalog())
}

func (r *Router) handleIntersectionStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.Trim(strings.TrimPrefix(req.URL.Path, "/api/greenwave/intersections/"), "/")
	if id == "" {
		r.handleIntersections(w, req)
		return
	}
	writeJSON(w, http.StatusOK, r.greenWave.Status(id))
}
