package protocol

import "encoding/hex"

// EncodeBody hex-encodes a body for a textual transport (the split-shape
// broker), keeping arbitrary bytes 0x00-0xFF intact end to end.
func EncodeBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return hex.EncodeToString(body)
}

// DecodeBody reverses EncodeBody.
func DecodeBody(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

// ToInternalRequest converts a RequestFrame to its hex-bodied wire form.
func (r *RequestFrame) ToInternalRequest() *InternalRequest {
	return &InternalRequest{
		RequestID: r.RequestID,
		TunnelID:  r.TunnelID,
		Method:    r.Method,
		Path:      r.Path,
		Query:     r.Query,
		Headers:   r.Headers,
		Body:      EncodeBody(r.Body),
	}
}

// ToRequestFrame reverses ToInternalRequest.
func (m *InternalRequest) ToRequestFrame() (*RequestFrame, error) {
	body, err := DecodeBody(m.Body)
	if err != nil {
		return nil, err
	}
	return &RequestFrame{
		RequestID: m.RequestID,
		TunnelID:  m.TunnelID,
		Method:    m.Method,
		Path:      m.Path,
		Query:     m.Query,
		Headers:   m.Headers,
		Body:      body,
	}, nil
}

// ToInternalResponse converts a ResponseFrame to its hex-bodied wire form.
func (r *ResponseFrame) ToInternalResponse() *InternalResponse {
	return &InternalResponse{
		RequestID:  r.RequestID,
		StatusCode: r.Status,
		Headers:    r.Headers,
		Body:       EncodeBody(r.Body),
	}
}

// ToResponseFrame reverses ToInternalResponse.
func (m *InternalResponse) ToResponseFrame() (*ResponseFrame, error) {
	body, err := DecodeBody(m.Body)
	if err != nil {
		return nil, err
	}
	return &ResponseFrame{
		RequestID: m.RequestID,
		Status:    m.StatusCode,
		Headers:   m.Headers,
		Body:      body,
	}, nil
}
