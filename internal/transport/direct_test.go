package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wormhole-tunnel/wormhole/internal/pending"
	"github.com/wormhole-tunnel/wormhole/internal/protocol"
	"github.com/wormhole-tunnel/wormhole/internal/registry"
	"github.com/wormhole-tunnel/wormhole/internal/tunnel"
)

func Test_direct_transport_round_trip(t *testing.T) {
	reg := registry.New()
	table := pending.New()
	d := NewDirectTransport(reg, table)

	tun := tunnel.New("t1", "abc123xy", 4)
	tun.Activate()
	require.NoError(t, reg.Insert("abc123xy", tun))

	go func() {
		frame := <-tun.Outbound()
		table.Resolve(frame.RequestID, &protocol.ResponseFrame{
			RequestID: frame.RequestID,
			Status:    200,
			Body:      []byte("ok"),
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := d.Call(ctx, "t1", &protocol.RequestFrame{RequestID: "req-1", TunnelID: "t1", Method: "GET", Path: "/"})
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.Equal(t, "ok", string(resp.Body))
}

func Test_direct_transport_unknown_tunnel_is_tunnel_gone(t *testing.T) {
	reg := registry.New()
	table := pending.New()
	d := NewDirectTransport(reg, table)

	_, err := d.Call(context.Background(), "missing", &protocol.RequestFrame{RequestID: "req-1"})
	require.ErrorIs(t, err, pending.ErrTunnelGone)
}

func Test_direct_transport_backpressure_surfaces_as_enqueue_error(t *testing.T) {
	reg := registry.New()
	table := pending.New()
	d := NewDirectTransport(reg, table)

	tun := tunnel.New("t1", "abc123xy", 1)
	tun.Activate()
	require.NoError(t, reg.Insert("abc123xy", tun))
	require.NoError(t, tun.Enqueue(&protocol.RequestFrame{RequestID: "filler"})) // fill the one-deep queue

	_, err := d.Call(context.Background(), "t1", &protocol.RequestFrame{RequestID: "req-2"})
	require.ErrorIs(t, err, tunnel.ErrBackpressure)
	require.Equal(t, 0, table.Len(), "the cancelled slot must not leak")
}
