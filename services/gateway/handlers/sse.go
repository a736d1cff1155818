// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashfoxhq/ashfox/services/gateway/jsonrpc"
	"github.com/ashfoxhq/ashfox/services/gateway/mcpsession"
)

// keepAliveInterval spaces the comment pings that keep intermediary
// proxies from timing the stream out.
const keepAliveInterval = 15 * time.Second

// sseConn adapts a session stream to the HTTP response. Push hands an
// event to the serving goroutine; a full buffer means the consumer
// stopped reading and the store drops the stream.
type sseConn struct {
	ch        chan mcpsession.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newSSEConn() *sseConn {
	return &sseConn{
		ch:   make(chan mcpsession.Event, 32),
		done: make(chan struct{}),
	}
}

func (c *sseConn) Push(event mcpsession.Event) error {
	select {
	case <-c.done:
		return mcpsession.ErrClosed
	case c.ch <- event:
		return nil
	default:
		return fmt.Errorf("slow SSE consumer")
	}
}

func (c *sseConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// HandleMCPGet opens the SSE stream for a session. The fourth
// concurrent stream on a session is refused with 429.
func (h *Handlers) HandleMCPGet(c *gin.Context) {
	setCORS(c)

	if !strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		c.JSON(http.StatusNotAcceptable, gin.H{"error": "Accept must include text/event-stream"})
		return
	}
	id := c.GetHeader(HeaderSessionID)
	if id == "" {
		h.observeTransportError(jsonrpc.ReasonSessionIDRequired)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Mcp-Session-Id header required"})
		return
	}
	sess := h.sessions.Get(id)
	if sess == nil {
		h.observeTransportError(jsonrpc.ReasonSessionUnavailable)
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or expired session"})
		return
	}

	conn := newSSEConn()
	if err := h.sessions.AttachSSE(sess, conn); err != nil {
		h.observeTransportError("too_many_requests")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "session stream limit reached"})
		return
	}
	h.syncGauges()
	defer func() {
		h.sessions.DetachSSE(sess, conn)
		conn.Close()
		h.syncGauges()
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	fmt.Fprint(c.Writer, ": stream open\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	// Best-effort replay from the in-memory ring. Events older than the
	// ring are gone; the client falls back to get_project_state.
	if last := c.GetHeader(HeaderLastEventID); last != "" {
		if lastID, err := strconv.ParseUint(last, 10, 64); err == nil {
			for _, event := range h.ring.since(lastID) {
				writeSSEEvent(c.Writer, event)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.done:
			return
		case event := <-conn.ch:
			writeSSEEvent(c.Writer, event)
			if flusher != nil {
				flusher.Flush()
			}
		case <-keepAlive.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// HandleMCPDelete closes a session and ends its streams.
func (h *Handlers) HandleMCPDelete(c *gin.Context) {
	setCORS(c)

	id := c.GetHeader(HeaderSessionID)
	if id == "" {
		h.observeTransportError(jsonrpc.ReasonSessionIDRequired)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Mcp-Session-Id header required"})
		return
	}
	sess := h.sessions.Get(id)
	if sess == nil {
		h.observeTransportError(jsonrpc.ReasonSessionUnavailable)
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or expired session"})
		return
	}
	h.sessions.Close(sess)
	h.syncGauges()
	h.logger.Info("session closed by client", "session", sess.ID)
	c.Status(http.StatusNoContent)
}

// HandleMCPOptions answers the CORS preflight with the fixed policy.
func (h *Handlers) HandleMCPOptions(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "content-type, last-event-id, authorization, mcp-protocol-version, mcp-session-id")
	c.Header("Access-Control-Max-Age", "86400")
	c.Status(http.StatusNoContent)
}

// writeSSEEvent frames one event: id, event name, then data lines.
func writeSSEEvent(w io.Writer, event mcpsession.Event) {
	fmt.Fprintf(w, "id: %d\n", event.ID)
	if event.Name != "" {
		fmt.Fprintf(w, "event: %s\n", event.Name)
	}
	for _, line := range strings.Split(string(event.Data), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

// eventRing retains recent broadcast events for Last-Event-ID replay.
type eventRing struct {
	mu     sync.Mutex
	events []mcpsession.Event
	nextID uint64
	limit  int
}

func newEventRing(limit int) *eventRing {
	return &eventRing{limit: limit}
}

// publish assigns the next event id and retains the event.
func (r *eventRing) publish(name string, data []byte) mcpsession.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	event := mcpsession.Event{ID: r.nextID, Name: name, Data: data}
	r.events = append(r.events, event)
	if len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return event
}

// since returns retained events with an id greater than the given one.
func (r *eventRing) since(id uint64) []mcpsession.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []mcpsession.Event
	for _, event := range r.events {
		if event.ID > id {
			out = append(out, event)
		}
	}
	return out
}
