package status

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// watch streams progress snapshots for one upload over a websocket. The
// stream ends when the upload settles in a terminal state, is cancelled, or
// the client goes away. Paused uploads keep streaming; they may resume.
func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := s.uploads.Progress(id); err != nil {
		http.Error(w, "upload "+id+" not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("error accepting watch connection", "uploadId", id, "error", err.Error())
		return
	}
	defer conn.Close(websocket.StatusInternalError, "status stream aborted")

	ctx := r.Context()
	ticker := time.NewTicker(s.watchEvery)
	defer ticker.Stop()

	for {
		snap, err := s.uploads.Progress(id)
		if err != nil {
			// Cancelled out from under the watcher.
			conn.Close(websocket.StatusNormalClosure, "upload no longer tracked")
			return
		}
		if err := wsjson.Write(ctx, conn, snap); err != nil {
			return
		}
		if snap.Status.Terminal() {
			conn.Close(websocket.StatusNormalClosure, "upload settled")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
} // .watch
