// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Document addresses. The state and its lock are two records in the
// same collection.
const (
	TenantID   = "native-pipeline"
	StateDocID = "pipeline-state-v2"
	LockDocID  = "pipeline-lock-v2"
)

// Lock timings. Holders must release explicitly; peers reclaim expired
// locks so a crashed holder cannot wedge the store.
const (
	LockTTL            = 2 * time.Second
	LockAcquireTimeout = 10 * time.Second
	lockRetryDelay     = 50 * time.Millisecond
)

// ErrLockTimeout is returned when the lock cannot be acquired within
// the acquire timeout.
var ErrLockTimeout = errors.New("pipeline lock acquire timeout")

type lockPayload struct {
	Owner     string `json:"owner"`
	ExpiresAt string `json:"expiresAt"`
}

// globalLock serializes state mutations across processes through the
// repository: create-or-replace-if-revision on the lock document.
type globalLock struct {
	repo    ProjectRepository
	owner   string
	ttl     time.Duration
	timeout time.Duration
	retry   time.Duration
}

func newGlobalLock(repo ProjectRepository, owner string) *globalLock {
	return &globalLock{
		repo:    repo,
		owner:   owner,
		ttl:     LockTTL,
		timeout: LockAcquireTimeout,
		retry:   lockRetryDelay,
	}
}

// acquire takes the lock or fails after the acquire timeout.
func (l *globalLock) acquire(ctx context.Context) error {
	deadline := time.Now().Add(l.timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := l.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

func (l *globalLock) tryAcquire(ctx context.Context) (bool, error) {
	current, err := l.repo.Find(ctx, TenantID, LockDocID)
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		err := l.repo.SaveIfRevision(ctx, l.lockDoc(), "")
		if errors.Is(err, ErrRevisionConflict) {
			return false, nil
		}
		return err == nil, err
	case err != nil:
		return false, fmt.Errorf("read lock document: %w", err)
	}

	var payload lockPayload
	if err := json.Unmarshal([]byte(current.StateJSON), &payload); err != nil {
		// A corrupt lock document is treated as expired.
		payload = lockPayload{}
	}
	expired := true
	if payload.ExpiresAt != "" {
		if at, err := time.Parse(time.RFC3339Nano, payload.ExpiresAt); err == nil {
			expired = time.Now().After(at)
		}
	}
	if payload.Owner != l.owner && !expired {
		return false, nil
	}

	err = l.repo.SaveIfRevision(ctx, l.lockDoc(), current.Revision)
	if errors.Is(err, ErrRevisionConflict) {
		return false, nil
	}
	return err == nil, err
}

// release drops the lock when still owned. Losing the race to a peer
// that reclaimed an expired lock is not an error.
func (l *globalLock) release(ctx context.Context) {
	current, err := l.repo.Find(ctx, TenantID, LockDocID)
	if err != nil || current.Revision != l.owner {
		return
	}
	_ = l.repo.Remove(ctx, TenantID, LockDocID)
}

func (l *globalLock) lockDoc() *Document {
	payload, _ := json.Marshal(lockPayload{
		Owner:     l.owner,
		ExpiresAt: time.Now().Add(l.ttl).UTC().Format(time.RFC3339Nano),
	})
	return &Document{
		TenantID:  TenantID,
		ProjectID: LockDocID,
		Revision:  l.owner,
		StateJSON: string(payload),
	}
}
