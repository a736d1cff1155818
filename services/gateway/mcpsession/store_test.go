// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcpsession

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	events []Event
	closed bool
	fail   bool
}

func (c *fakeConn) Push(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return ErrClosed
	}
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func TestCreateAndGet(t *testing.T) {
	store := NewStore(0, nil)
	sess := store.Create("2025-06-18")
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, "2025-06-18", sess.ProtocolVersion)
	assert.False(t, sess.Initialized)

	assert.Same(t, sess, store.Get(sess.ID))
	assert.Nil(t, store.Get("missing"))
}

func TestSSEConnectionCap(t *testing.T) {
	store := NewStore(0, nil)
	sess := store.Create("")

	conns := make([]*fakeConn, MaxSSEConnections)
	for i := range conns {
		conns[i] = &fakeConn{}
		require.NoError(t, store.AttachSSE(sess, conns[i]))
	}

	err := store.AttachSSE(sess, &fakeConn{})
	assert.ErrorIs(t, err, ErrTooManyStreams)

	t.Run("detach frees a slot", func(t *testing.T) {
		store.DetachSSE(sess, conns[0])
		assert.NoError(t, store.AttachSSE(sess, &fakeConn{}))
	})

	t.Run("detach is idempotent", func(t *testing.T) {
		store.DetachSSE(sess, conns[0])
		store.DetachSSE(sess, conns[0])
	})
}

func TestCloseEndsStreams(t *testing.T) {
	store := NewStore(0, nil)
	sess := store.Create("")
	conn := &fakeConn{}
	require.NoError(t, store.AttachSSE(sess, conn))

	store.Close(sess)
	assert.True(t, conn.closed)
	assert.Nil(t, store.Get(sess.ID))
	assert.ErrorIs(t, store.AttachSSE(sess, &fakeConn{}), ErrClosed)
}

func TestBroadcast(t *testing.T) {
	store := NewStore(0, nil)
	a := store.Create("")
	b := store.Create("")
	connA, connB := &fakeConn{}, &fakeConn{fail: true}
	require.NoError(t, store.AttachSSE(a, connA))
	require.NoError(t, store.AttachSSE(b, connB))

	store.Broadcast(Event{ID: 7, Name: "project.snapshot", Data: []byte(`{}`)})

	require.Len(t, connA.events, 1)
	assert.Equal(t, uint64(7), connA.events[0].ID)

	t.Run("failing stream is dropped", func(t *testing.T) {
		assert.True(t, connB.closed)
		_, streams := store.Counts()
		assert.Equal(t, 1, streams)
	})
}

func TestIdleEviction(t *testing.T) {
	store := NewStore(10*time.Millisecond, nil)
	sess := store.Create("")
	conn := &fakeConn{}
	require.NoError(t, store.AttachSSE(sess, conn))

	time.Sleep(25 * time.Millisecond)
	store.evictIdle()

	assert.Nil(t, store.Get(sess.ID))
	assert.True(t, conn.closed)
}

func TestTouchDefersEviction(t *testing.T) {
	store := NewStore(50*time.Millisecond, nil)
	sess := store.Create("")

	time.Sleep(30 * time.Millisecond)
	store.Touch(sess)
	store.evictIdle()
	assert.NotNil(t, store.Get(sess.ID), "touched session survives the sweep")
}
