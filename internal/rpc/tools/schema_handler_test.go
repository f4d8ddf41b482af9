package tools

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/animus-coder/scribe/internal/tools"
)

func TestSchemaHandler(t *testing.T) {
	reg := tools.NewRegistry(nil, nil)
	h := SchemaHandler{Registry: reg}
	req := httptest.NewRequest(http.MethodGet, "/tools/schemas", nil)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var schemas []tools.Schema
	if err := json.Unmarshal(rr.Body.Bytes(), &schemas); err != nil {
		t.Fatalf("decode: %v", err)
	}
	names := map[string]bool{}
	for _, s := range schemas {
		names[s.Name] = true
	}
	for _, want := range []string{tools.ToolRead, tools.ToolWrite, tools.ToolEdit, tools.ToolBash, tools.ToolTodoWrite} {
		if !names[want] {
			t.Fatalf("missing schema %s", want)
		}
	}
}

func TestSchemaHandlerRejectsPost(t *testing.T) {
	h := SchemaHandler{Registry: tools.NewRegistry(nil, nil)}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/tools/schemas", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestSchemaHandlerSingleTool(t *testing.T) {
	h := SchemaHandler{Registry: tools.NewRegistry(nil, nil)}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tools/schemas?name="+tools.ToolWrite, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var schema tools.Schema
	if err := json.Unmarshal(rr.Body.Bytes(), &schema); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if schema.Name != tools.ToolWrite {
		t.Fatalf("got schema %q", schema.Name)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tools/schemas?name=Teleport", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
