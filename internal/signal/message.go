package signal

import "github.com/screenlink/screenlink/internal/domain"

// Message is the JSON envelope exchanged with the signaling relay. The
// relay routes on To and stamps From; it never inspects payloads.
type Message struct {
	Type      string                      `json:"type"` // register, registered, connect, accept, bye, hangup, offer, answer, ice, error
	From      string                      `json:"from,omitempty"`
	To        string                      `json:"to,omitempty"`
	SDP       string                      `json:"sdp,omitempty"`
	Candidate *domain.ICECandidatePayload `json:"candidate,omitempty"`
	Error     string                      `json:"error,omitempty"`
}

const (
	typeRegister   = "register"
	typeRegistered = "registered"
	typeConnect    = "connect"
	typeAccept     = "accept"
	typeBye        = "bye"
	typeHangup     = "hangup"
	typeOffer      = "offer"
	typeAnswer     = "answer"
	typeICE        = "ice"
	typeError      = "error"
)
