package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleRunStream serves a Server-Sent Events stream of a run's state. The
// store is polled and a "status" event is sent whenever the state changes;
// a "done" event follows once the run reaches a terminal status.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.Get(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if present

	sendDone := func(reason string) {
		fmt.Fprintf(w, "event: done\ndata: %s\n\n", reason)
		flusher.Flush()
	}

	tick := time.NewTicker(s.poll)
	defer tick.Stop()

	var last []byte
	for {
		rs, err := s.store.Get(id)
		if err != nil {
			sendDone("run not found")
			return
		}
		data, err := json.Marshal(rs)
		if err != nil {
			sendDone("encode error")
			return
		}
		if string(data) != string(last) {
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
			flusher.Flush()
			last = data
		}
		if rs.Finished() {
			sendDone(rs.Status)
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
		}
	}
}
