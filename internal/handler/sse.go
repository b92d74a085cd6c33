package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/capitalize-ai/agui-gateway/internal/agui"
	"github.com/capitalize-ai/agui-gateway/internal/model"
	"github.com/capitalize-ai/agui-gateway/pkg/metrics"
)

// sseWriter frames events as server-sent events. Headers are committed on the
// first frame so a handler can still answer with a JSON error before that.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
	s.w.WriteHeader(http.StatusOK)

	metrics.IncrementSSEConnections()
}

// close releases the connection gauge if the stream was started.
func (s *sseWriter) close() {
	if s.started {
		metrics.DecrementSSEConnections()
	}
}

// send writes a gateway control frame such as heartbeat or replay_complete.
func (s *sseWriter) send(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.frame(event, "", payload)
}

// sendEvent writes a lifecycle event, named by its type.
func (s *sseWriter) sendEvent(e agui.Event) error {
	payload, err := agui.Marshal(e)
	if err != nil {
		return err
	}
	return s.frame(string(e.Type()), "", payload)
}

// sendRecorded writes a replayed lifecycle event with its log sequence as the
// SSE id, so clients can resume with Last-Event-ID.
func (s *sseWriter) sendRecorded(re model.RecordedEvent) error {
	payload, err := agui.Marshal(re.Event)
	if err != nil {
		return err
	}
	return s.frame(string(re.Event.Type()), fmt.Sprint(re.Sequence), payload)
}

func (s *sseWriter) frame(event, id string, payload []byte) error {
	s.start()
	if id != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
