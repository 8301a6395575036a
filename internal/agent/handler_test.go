package agent

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wormhole-tunnel/wormhole/internal/protocol"
)

func Test_handle_request_forwards_method_path_and_body_to_backend(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer backend.Close()

	h := NewRequestHandler(backend.URL, 0)
	resp := h.HandleRequest(&protocol.HTTPRequestMessage{
		RequestID: "req-1",
		Method:    "POST",
		Path:      "/widgets",
		Body:      "payload",
	})

	if gotMethod != "POST" {
		t.Errorf("expected POST, got %q", gotMethod)
	}
	if gotPath != "/widgets" {
		t.Errorf("expected /widgets, got %q", gotPath)
	}
	if gotBody != "payload" {
		t.Errorf("expected payload body, got %q", gotBody)
	}
	if resp.Status != http.StatusCreated {
		t.Errorf("expected 201, got %d", resp.Status)
	}
	if resp.Body != "created" {
		t.Errorf("expected created body, got %q", resp.Body)
	}
	if resp.Headers.Get("X-Reply") != "yes" {
		t.Errorf("expected X-Reply header to survive, got %q", resp.Headers.Get("X-Reply"))
	}
	if resp.RequestID != "req-1" {
		t.Errorf("expected request id to be preserved, got %q", resp.RequestID)
	}
}

func Test_handle_request_appends_query_string(t *testing.T) {
	var gotRawQuery string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRawQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	h := NewRequestHandler(backend.URL, 0)
	h.HandleRequest(&protocol.HTTPRequestMessage{
		RequestID:   "req-2",
		Method:      "GET",
		Path:        "/search",
		QueryString: "q=widgets",
	})

	if gotRawQuery != "q=widgets" {
		t.Errorf("expected query string to be forwarded, got %q", gotRawQuery)
	}
}

func Test_handle_request_unreachable_backend_yields_502(t *testing.T) {
	h := NewRequestHandler("http://127.0.0.1:1", 0)
	resp := h.HandleRequest(&protocol.HTTPRequestMessage{
		RequestID: "req-3",
		Method:    "GET",
		Path:      "/",
	})

	if resp.Status != http.StatusBadGateway {
		t.Errorf("expected 502 for unreachable backend, got %d", resp.Status)
	}
	if resp.RequestID != "req-3" {
		t.Errorf("expected request id to be preserved on error, got %q", resp.RequestID)
	}
}

func Test_handle_request_strips_hop_by_hop_response_headers(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		w.Header().Set("X-Keep", "me")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	h := NewRequestHandler(backend.URL, 0)
	resp := h.HandleRequest(&protocol.HTTPRequestMessage{
		RequestID: "req-4",
		Method:    "GET",
		Path:      "/",
	})

	if resp.Headers.Get("Connection") != "" {
		t.Errorf("expected Connection header to be stripped, got %q", resp.Headers.Get("Connection"))
	}
	if resp.Headers.Get("X-Keep") != "me" {
		t.Errorf("expected X-Keep header to survive, got %q", resp.Headers.Get("X-Keep"))
	}
}
