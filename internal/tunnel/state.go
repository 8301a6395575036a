package tunnel

// State is the tunnel session's lifecycle stage (spec.md §4.4).
type State int32

const (
	// StateHandshake is the brief window between accept and the first
	// Connected frame being sent successfully.
	StateHandshake State = iota
	// StateActive means the registry holds this tunnel under its public_id
	// and it may receive request frames.
	StateActive
	// StateDraining means the registry entry has been removed and every
	// pending request for this tunnel is being resolved with TunnelGone.
	StateDraining
	// StateClosed is terminal: all resources released, session goroutines exited.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
