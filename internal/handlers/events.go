package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/events"
	"github.com/devicelab/bridge/internal/metrics"
	"github.com/devicelab/bridge/internal/model"
)

// EventHandlers streams routed events to subscribers over SSE.
type EventHandlers struct {
	router  *events.Router
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEventHandlers creates a new EventHandlers instance.
func NewEventHandlers(router *events.Router, logger *zap.Logger, metrics *metrics.Metrics) *EventHandlers {
	return &EventHandlers{
		router:  router,
		logger:  logger,
		metrics: metrics,
	}
}

// HandleStream handles GET /events requests. The subscriber is assigned a
// fresh connection token and joined to the global topic, or to the device
// topics named in the devices query parameter. The stream stays open until
// the client disconnects.
func (h *EventHandlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, h.logger, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	token := uuid.NewString()
	sub := h.router.Subscribe(token)
	defer sub.Close()

	if devices := r.URL.Query().Get("devices"); devices != "" {
		for _, id := range strings.Split(devices, ",") {
			if id = strings.TrimSpace(id); id != "" {
				sub.Join(events.TopicDevice(id))
			}
		}
	} else {
		sub.Join(events.TopicHome)
	}

	if h.metrics != nil && h.metrics.EventSubscribers != nil {
		h.metrics.EventSubscribers.Inc()
		defer h.metrics.EventSubscribers.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The token lets the client correlate point-to-point events addressed
	// to this connection.
	fmt.Fprintf(w, "event: token\ndata: %s\n\n", token)
	flusher.Flush()

	h.logger.Info("Event subscriber connected", zap.String("token", token))

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("Event subscriber disconnected", zap.String("token", token))
			return

		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := h.writeEvent(w, ev); err != nil {
				h.logger.Warn("Failed to write event",
					zap.String("token", token),
					zap.Error(err),
				)
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventHandlers) writeEvent(w http.ResponseWriter, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
