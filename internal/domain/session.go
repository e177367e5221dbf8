package domain

// Role is the mode a session operates in. RoleNone is the idle landing
// state before a mode is chosen.
type Role int

const (
	RoleNone Role = iota
	RoleSharer
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleSharer:
		return "sharer"
	case RoleViewer:
		return "viewer"
	default:
		return "none"
	}
}

// Phase describes the signaling link state. It is independent of whether
// media is flowing: a sharer can be PhaseConnected with no capture yet.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Snapshot is the read-only view of a session exposed to the presentation
// layer. The presentation collaborator renders it and never mutates it.
type Snapshot struct {
	Role           Role
	LocalIdentity  string
	RemoteIdentity string
	Phase          Phase
	CaptureActive  bool
	StreamBound    bool
	LastError      string
}
