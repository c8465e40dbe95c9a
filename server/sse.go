package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KamdynS/sfnresume/state"
)

// RecordGetter loads the current version of one resume record.
type RecordGetter func(ctx context.Context) (*state.ResumeRecord, error)

// StreamRecord streams a resume record over SSE.
// - Emits "event: status" whenever the record changes, with the update time as id
// - Sends heartbeat comments ": ping" at heartbeatInterval (default 15s)
// - Polls the store at pollInterval (default 500ms)
// - Emits "event: done" and returns once the record reaches a terminal status
func StreamRecord(
	ctx context.Context,
	w http.ResponseWriter,
	get RecordGetter,
	pollInterval time.Duration,
	heartbeatInterval time.Duration,
) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("stream unsupported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()

	var last time.Time
	emit := func() (bool, error) {
		rec, err := get(ctx)
		if errors.Is(err, state.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if rec.UpdatedAt.Equal(last) {
			return false, nil
		}
		last = rec.UpdatedAt
		b, _ := json.Marshal(rec)
		fmt.Fprintf(w, "id: %d\n", rec.UpdatedAt.UnixNano())
		fmt.Fprintf(w, "event: status\n")
		fmt.Fprintf(w, "data: %s\n\n", b)
		if rec.Status.IsTerminal() {
			fmt.Fprintf(w, "event: done\ndata: {}\n\n")
			flusher.Flush()
			return true, nil
		}
		flusher.Flush()
		return false, nil
	}

	if done, err := emit(); done || err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if done, err := emit(); done || err != nil {
				return err
			}
		case <-hb.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
