// Package respond holds the JSON response helpers shared by every Kino
// handler. Error bodies are always {"message": ...} so clients have a
// single shape to parse regardless of which endpoint failed.
package respond

import (
	"encoding/json"
	"net/http"
)

// JSON writes v as a JSON body with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes a {"message": msg} error body with the given status code.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"message": msg})
}

// Internal writes the generic 500 body. The real cause is for the logs,
// never the client.
func Internal(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, "An internal error occurred")
}
