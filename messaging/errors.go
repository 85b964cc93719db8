// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// MatrixError is the standard {"errcode","error"} response body plus the
// HTTP status it arrived with.
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) && matrixErr.Code == ErrCodeNotFound { ... }
type MatrixError struct {
	Code    string `json:"errcode"`
	Message string `json:"error"`
	// SoftLogout accompanies M_UNKNOWN_TOKEN when the server expects
	// the client to refresh rather than discard its session.
	SoftLogout bool `json:"soft_logout,omitempty"`
	StatusCode int  `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Matrix error codes the host reacts to.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeMissingToken  = "M_MISSING_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeInvalidParam  = "M_INVALID_PARAM"
)

// ErrNoRefreshToken is returned when a refresh is needed but the session
// was created without a refresh token.
var ErrNoRefreshToken = errors.New("messaging: session has no refresh token")

// ErrSessionClosed is returned by requests on a closed DirectSession.
var ErrSessionClosed = errors.New("messaging: session closed")

// IsMatrixError reports whether err wraps a *MatrixError with code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// IsNotSupported reports whether err means the endpoint does not exist
// on this homeserver (M_UNRECOGNIZED, 404, or 405).
func IsNotSupported(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	return matrixErr.Code == ErrCodeUnrecognized || matrixErr.StatusCode == 404 || matrixErr.StatusCode == 405
}
