// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP body reads and validates the homeserver,
// issuer, and redirect URLs that flow through login and persisted
// credentials.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
)

// MaxResponseSize caps JSON API bodies. /sync responses for busy rooms
// are the largest legitimate payload by far.
const MaxResponseSize int64 = 64 << 20

// ReadResponse is io.ReadAll limited to MaxResponseSize.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads at most MaxResponseSize bytes and unmarshals
// them into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// ErrorBody returns as much of an error body as could be read, for use
// in error messages.
func ErrorBody(body io.Reader) string {
	data, _ := ReadResponse(body)
	return string(data)
}

// ParseHTTPURL parses raw and requires an absolute http or https URL
// with a host.
func ParseHTTPURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty URL")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("URL %q: scheme must be http or https", raw)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("URL %q: missing host", raw)
	}
	return parsed, nil
}
