// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes body as a JSON response with the given status. For
// use inside httptest handlers; encoding errors panic because the body
// is always a test literal.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		panic(err)
	}
}

// WriteMatrixError writes a Matrix-style {"errcode","error"} body.
func WriteMatrixError(w http.ResponseWriter, status int, errcode, message string) {
	WriteJSON(w, status, map[string]string{"errcode": errcode, "error": message})
}
