package transport

import "testing"

func Test_subject_for_tunnel_id(t *testing.T) {
	got := subjectFor("t1")
	if got != "tunnel.t1" {
		t.Fatalf("expected tunnel.t1, got %q", got)
	}
}
