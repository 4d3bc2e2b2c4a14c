package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// streamEvents relays archive change events as server-sent events until the
// client goes away or the broker is closed.
func (h *Handler) streamEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fail(c, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported")
		return
	}
	feed, unsubscribe := h.events.Subscribe()
	defer unsubscribe()
	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	comment := func(text string) error {
		if _, err := fmt.Fprintf(c.Writer, ": %s\n\n", text); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := comment("connected"); err != nil {
		return
	}
	interval := h.pingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.events.Done():
			return
		case <-ticker.C:
			if err := comment("ping"); err != nil {
				return
			}
		case ev, ok := <-feed:
			if !ok {
				return
			}
			if err := sendEvent(ev.Type, ev); err != nil {
				return
			}
		}
	}
}
