package tools

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/animus-coder/scribe/internal/tools"
)

// SchemaHandler serves the tool schemas the agent model is offered. A "name" query
// parameter selects a single schema.
type SchemaHandler struct {
	Registry *tools.Registry
}

// ServeHTTP renders schemas.
func (h SchemaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body any = h.Registry.Schemas()
	if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
		schema, ok := h.Registry.Schema(name)
		if !ok {
			http.Error(w, "unknown tool "+name, http.StatusNotFound)
			return
		}
		body = schema
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
