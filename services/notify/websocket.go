// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/ContractIQ/pkg/extensions"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type subscriber struct {
	userID string
	send   chan Notification
}

// Hub broadcasts notifications to connected dashboard websockets.
//
// An authenticated subscriber only receives notifications whose user_id
// attribute is its own. Anonymous callers may narrow the stream with
// ?user_id=X; without the parameter they receive everything.
// Slow subscribers whose buffer is full miss messages instead of blocking
// the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), logger: logger}
}

// Publish implements Publisher.
func (h *Hub) Publish(_ context.Context, n Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.userID != "" && s.userID != n.Attributes["user_id"] {
			continue
		}
		select {
		case s.send <- n:
		default:
			h.logger.Warn("Dropping notification for slow websocket subscriber", "user_id", s.userID)
		}
	}
	return nil
}

// Name implements Publisher.
func (h *Hub) Name() string { return "websocket" }

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Handler upgrades the request and streams notifications until the client
// disconnects.
//
// identity returns the authenticated caller for c. A nil identity, or one
// that reports extensions.AnonymousUser, falls back to the user_id query
// parameter. An authenticated caller asking for another user's stream is
// refused with 403 before the upgrade.
func (h *Hub) Handler(identity func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := subscriberID(c, identity)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user_id does not match the authenticated caller"})
			return
		}
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Error("failed to upgrade the websocket", "error", err)
			return
		}
		s := &subscriber{userID: userID, send: make(chan Notification, wsSendBuffer)}
		h.add(s)
		defer h.remove(s)

		done := make(chan struct{})
		go h.readPump(ws, done)
		h.writePump(ws, s, done)
	}
}

// subscriberID picks the stream a caller may read. It reports false when an
// authenticated caller names someone else in ?user_id.
func subscriberID(c *gin.Context, identity func(*gin.Context) string) (string, bool) {
	requested := c.Query("user_id")
	var caller string
	if identity != nil {
		caller = identity(c)
	}
	if caller == "" || caller == extensions.AnonymousUser {
		return requested, true
	}
	if requested != "" && requested != caller {
		return "", false
	}
	return caller, true
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// readPump discards client frames and closes done when the peer goes away.
func (h *Hub) readPump(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(ws *websocket.Conn, s *subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case <-done:
			return
		case n := <-s.send:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(n); err != nil {
				h.logger.Warn("Failed to write WebSocket JSON", "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
