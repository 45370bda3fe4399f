package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/kegsync/stream"
)

const heartbeatInterval = 15 * time.Second

// streamEvents serves broker events as server-sent events. Topics come from
// repeated topic query parameters and default to the firehose.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	broker := a.eng.Broker()
	if broker == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "event stream is disabled"})
		return
	}

	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}
	for _, topic := range topics {
		if err := stream.ValidateTopic(topic); err != nil {
			badRequest(w, "%v", err)
			return
		}
	}

	rc := http.NewResponseController(w)
	sub := broker.Subscribe(topics...)
	defer broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Type, data)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
