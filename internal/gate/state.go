package gate

import (
	"tapit-auth/internal/auth"
	"tapit-auth/internal/profile"
)

// Phase is the lifecycle stage of a client session.
type Phase int

const (
	Initializing Phase = iota
	SignedOut
	ProfilePending
	Ready
	Errored
)

func (p Phase) String() string {
	switch p {
	case Initializing:
		return "initializing"
	case SignedOut:
		return "signed-out"
	case ProfilePending:
		return "profile-pending"
	case Ready:
		return "ready"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// MarshalText lets phases appear by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is one immutable snapshot of a session.
//
//	Ready          identity and profile set, Err nil
//	ProfilePending identity set, profile nil, Err nil
//	SignedOut      identity and profile nil
//	Initializing   identity and profile hidden while a load is in flight
//	Errored        only Err set
//
// Identity and Profile must be treated as read-only.
type State struct {
	Identity *auth.Identity
	Profile  *profile.Profile
	Phase    Phase
	Err      error
	// Version increases by one on every transition.
	Version uint64
}

// Settled reports whether no load is in flight.
func (s State) Settled() bool {
	switch s.Phase {
	case SignedOut, Ready, Errored:
		return true
	default:
		return false
	}
}
