// Package progress streams long-running job progress to the browser as
// server-sent events.
package progress

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Stages emitted by the reconciliation and other streamed jobs.
const (
	StageReading          = "reading"
	StageBuildingVerified = "building_verified"
	StageSavingInvoices   = "saving_invoices"
	StageSavingVerified   = "saving_verified"
	StageCleanup          = "cleanup"
	StageComplete         = "complete"
	StageError            = "error"
)

// Event is one progress update on the wire.
type Event struct {
	Stage      string `json:"stage"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message,omitempty"`

	// Terminal fields, set on the final event only.
	Success       *bool  `json:"success,omitempty"`
	RecordsSynced *int   `json:"records_synced,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Complete builds the terminal success event.
func Complete(recordsSynced int) Event {
	ok := true
	return Event{
		Stage:         StageComplete,
		Percentage:    100,
		Success:       &ok,
		RecordsSynced: &recordsSynced,
	}
}

// Failure builds the terminal error event.
func Failure(err error) Event {
	ok := false
	return Event{
		Stage:      StageError,
		Percentage: 100,
		Success:    &ok,
		Error:      err.Error(),
	}
}

// Emitter queues events from a worker toward one SSE response. The
// channel is bounded; when the reader stalls, older updates are dropped
// in favor of newer ones, which is the right trade for a progress bar.
type Emitter struct {
	ch chan Event
}

// NewEmitter creates an emitter with the given buffer.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 32
	}
	return &Emitter{ch: make(chan Event, buffer)}
}

// Emit enqueues one event without blocking the worker.
func (e *Emitter) Emit(ev Event) {
	for {
		select {
		case e.ch <- ev:
			return
		default:
			// Full: drop the oldest queued event and retry.
			select {
			case <-e.ch:
			default:
			}
		}
	}
}

// Close signals that no more events will come. Emit must not be called
// after Close.
func (e *Emitter) Close() {
	close(e.ch)
}

// Events exposes the drain side.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// ServeSSE drains the emitter into w until it is closed or the client
// goes away. The caller sets up the worker that feeds the emitter and
// closes it when done.
func ServeSSE(w http.ResponseWriter, r *http.Request, em *Emitter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("progress: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-em.Events():
			if !open {
				return nil
			}
			if err := writeEvent(w, ev); err != nil {
				return err
			}
			flusher.Flush()
		case <-r.Context().Done():
			return r.Context().Err()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("progress: encoding event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
