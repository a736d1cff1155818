// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mcpsession is the process-wide MCP session registry: session
// lifecycle, idle eviction, and the bounded SSE connection set each
// session owns.
package mcpsession

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashfoxhq/ashfox/pkg/logging"
)

// MaxSSEConnections is the per-session cap on concurrent streams.
const MaxSSEConnections = 3

// DefaultIdleTTL evicts sessions with no traffic for this long.
const DefaultIdleTTL = 30 * time.Minute

var (
	// ErrTooManyStreams is returned when a session already holds
	// MaxSSEConnections streams.
	ErrTooManyStreams = errors.New("too many SSE connections for session")

	// ErrClosed is returned when operating on a closed session.
	ErrClosed = errors.New("session closed")
)

// Conn is one open SSE stream. Push hands an encoded event to the
// transport; Close ends the stream.
type Conn interface {
	Push(event Event) error
	Close()
}

// Event is a server-pushed SSE event before framing.
type Event struct {
	ID    uint64
	Name  string
	Data  []byte
}

// Session is one MCP session. Fields are guarded by the owning Store.
type Session struct {
	ID              string
	ProtocolVersion string
	Initialized     bool

	lastTouched time.Time
	conns       []Conn
	closed      bool
}

// Store owns every session.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	logger   *logging.Logger
}

// NewStore creates a session store. ttl <= 0 selects DefaultIdleTTL.
func NewStore(ttl time.Duration, logger *logging.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger,
	}
}

// Create allocates a session with a fresh id.
func (s *Store) Create(protocolVersion string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{
		ID:              uuid.New().String(),
		ProtocolVersion: protocolVersion,
		lastTouched:     time.Now(),
	}
	s.sessions[sess.ID] = sess
	return sess
}

// Get returns the session with the given id, or nil.
func (s *Store) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// Touch refreshes the idle timestamp.
func (s *Store) Touch(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.lastTouched = time.Now()
}

// MarkInitialized flips the session into the initialized state.
func (s *Store) MarkInitialized(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Initialized = true
	sess.lastTouched = time.Now()
}

// AttachSSE registers a stream on the session. Fails when the session
// already holds MaxSSEConnections streams.
func (s *Store) AttachSSE(sess *Session, conn Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.closed {
		return ErrClosed
	}
	if len(sess.conns) >= MaxSSEConnections {
		return ErrTooManyStreams
	}
	sess.conns = append(sess.conns, conn)
	sess.lastTouched = time.Now()
	return nil
}

// DetachSSE removes a stream. Idempotent: detaching an unknown conn is
// a no-op, the transport close hook may fire more than once.
func (s *Store) DetachSSE(sess *Session, conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range sess.conns {
		if c == conn {
			sess.conns = append(sess.conns[:i], sess.conns[i+1:]...)
			return
		}
	}
}

// Close removes the session and ends all of its streams.
func (s *Store) Close(sess *Session) {
	s.mu.Lock()
	conns := sess.conns
	sess.conns = nil
	sess.closed = true
	delete(s.sessions, sess.ID)
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Broadcast pushes an event to every stream of every session. Streams
// that fail to accept the push are detached and closed.
func (s *Store) Broadcast(event Event) {
	s.mu.Lock()
	type target struct {
		sess *Session
		conn Conn
	}
	var targets []target
	for _, sess := range s.sessions {
		for _, c := range sess.conns {
			targets = append(targets, target{sess, c})
		}
	}
	s.mu.Unlock()

	for _, t := range targets {
		if err := t.conn.Push(event); err != nil {
			s.logger.Warn("dropping SSE stream", "session", t.sess.ID, "error", err)
			s.DetachSSE(t.sess, t.conn)
			t.conn.Close()
		}
	}
}

// Counts reports the number of sessions and open streams.
func (s *Store) Counts() (sessions, streams int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		streams += len(sess.conns)
	}
	return len(s.sessions), streams
}

// RunEviction closes idle sessions until the context ends. The sweep
// interval is a quarter of the TTL.
func (s *Store) RunEviction(ctx context.Context) {
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

func (s *Store) evictIdle() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	var idle []*Session
	for _, sess := range s.sessions {
		if sess.lastTouched.Before(cutoff) {
			idle = append(idle, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range idle {
		s.logger.Info("evicting idle session", "session", sess.ID)
		s.Close(sess)
	}
}
