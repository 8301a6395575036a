package agent

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wormhole-tunnel/wormhole/internal/protocol"
)

// RequestHandler processes tunnelled requests against the local backend.
type RequestHandler struct {
	targetURL string
	client    *http.Client
}

// NewRequestHandler creates a handler targeting the given backend url.
func NewRequestHandler(targetURL string, backendTimeout time.Duration) *RequestHandler {
	if backendTimeout <= 0 {
		backendTimeout = 30 * time.Second
	}
	return &RequestHandler{
		targetURL: targetURL,
		client: &http.Client{
			Timeout: backendTimeout,
		},
	}
}

// HandleRequest executes a tunnelled request against the local backend
// and returns the response in the same wire shape.
func (h *RequestHandler) HandleRequest(req *protocol.HTTPRequestMessage) *protocol.HTTPResponseMessage {
	backendURL := h.targetURL + req.Path
	if req.QueryString != "" {
		backendURL += "?" + req.QueryString
	}
	slog.Debug("forwarding request to backend", "method", req.Method, "url", backendURL)

	var bodyReader io.Reader
	if req.Body != "" {
		bodyReader = bytes.NewReader([]byte(req.Body))
	}

	httpReq, err := http.NewRequest(req.Method, backendURL, bodyReader)
	if err != nil {
		return errorResponse(req.RequestID, http.StatusBadGateway, "creating backend request: "+err.Error())
	}
	req.Headers.ApplyToHTTPHeader(httpReq.Header)
	httpReq.Host = httpReq.URL.Host

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return errorResponse(req.RequestID, http.StatusBadGateway, "backend error: "+err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResponse(req.RequestID, http.StatusBadGateway, "reading backend response: "+err.Error())
	}

	return &protocol.HTTPResponseMessage{
		RequestID: req.RequestID,
		Status:    resp.StatusCode,
		Headers:   protocol.FromHTTPHeader(resp.Header, true),
		Body:      string(body),
	}
}

// errorResponse builds a synthetic response when the backend cannot be
// reached at all; still one reply per accepted request, per spec.md §4.6.
func errorResponse(requestID string, status int, message string) *protocol.HTTPResponseMessage {
	return &protocol.HTTPResponseMessage{
		RequestID: requestID,
		Status:    status,
		Headers:   protocol.Header{{Name: "Content-Type", Value: "text/plain"}},
		Body:      message,
	}
}
