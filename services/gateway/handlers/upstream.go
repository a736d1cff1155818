// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// upstreamClient relays tools/call traffic to a remote gateway. Used
// when this process is a thin front over an editor host elsewhere.
type upstreamClient struct {
	url    string
	client *http.Client
}

func newUpstreamClient(url string) *upstreamClient {
	return &upstreamClient{
		url:    url,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// relay posts the raw JSON-RPC message and returns the raw response
// body. Connection failures and non-2xx statuses are errors; the
// caller maps them to the upstream gateway code.
func (u *upstreamClient) relay(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream read: %w", err)
	}
	return out, nil
}
