package protocol

import (
	"bytes"
	"testing"
)

func Test_internal_request_round_trip_preserves_binary_body(t *testing.T) {
	body := make([]byte, 256)
	for i := range body {
		body[i] = byte(i)
	}

	frame := &RequestFrame{RequestID: "r1", TunnelID: "t1", Method: "POST", Path: "/x", Body: body}
	internal := frame.ToInternalRequest()

	back, err := internal.ToRequestFrame()
	if err != nil {
		t.Fatalf("conversion failed: %v", err)
	}
	if !bytes.Equal(back.Body, body) {
		t.Fatalf("body not preserved byte-exact")
	}
}

func Test_internal_response_round_trip_preserves_binary_body(t *testing.T) {
	body := []byte{0x00, 0xFF, 0x10, 0x7F, 0x80}
	frame := &ResponseFrame{RequestID: "r1", Status: 200, Body: body}
	internal := frame.ToInternalResponse()

	back, err := internal.ToResponseFrame()
	if err != nil {
		t.Fatalf("conversion failed: %v", err)
	}
	if !bytes.Equal(back.Body, body) {
		t.Fatalf("body not preserved byte-exact: got %v want %v", back.Body, body)
	}
}

func Test_encode_body_empty_is_empty_string(t *testing.T) {
	if s := EncodeBody(nil); s != "" {
		t.Errorf("expected empty string for nil body, got %q", s)
	}
}

func Test_decode_body_rejects_odd_length_hex(t *testing.T) {
	if _, err := DecodeBody("abc"); err == nil {
		t.Fatal("expected error for odd-length hex string")
	}
}
