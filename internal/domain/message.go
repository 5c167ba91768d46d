package domain

import "fmt"

// Role is a debate seat.
type Role string

const (
	RoleProposer   Role = "proposer"
	RoleChallenger Role = "challenger"
	RoleArbitrator Role = "arbitrator"
)

// Valid reports whether r is one of the three seats.
func (r Role) Valid() bool {
	switch r {
	case RoleProposer, RoleChallenger, RoleArbitrator:
		return true
	default:
		return false
	}
}

// Kind is the kind of statement a message carries.
type Kind string

const (
	KindProposal  Kind = "proposal"
	KindChallenge Kind = "challenge"
	KindJudgement Kind = "judgement"
)

// Valid reports whether k is a known statement kind.
func (k Kind) Valid() bool {
	return k.Role() != ""
}

// Role returns the seat that produces statements of this kind.
func (k Kind) Role() Role {
	switch k {
	case KindProposal:
		return RoleProposer
	case KindChallenge:
		return RoleChallenger
	case KindJudgement:
		return RoleArbitrator
	default:
		return ""
	}
}

// MessageKey identifies a message within a session.
type MessageKey struct {
	Round int  `json:"round"`
	Role  Role `json:"role"`
}

func (k MessageKey) String() string {
	return fmt.Sprintf("%d/%s", k.Round, k.Role)
}

// Message is one participant statement. Content grows toward
// RevealTarget while it is being revealed.
type Message struct {
	Round        int    `json:"round"`
	Role         Role   `json:"role"`
	Kind         Kind   `json:"kind"`
	Content      string `json:"content"`
	RevealTarget string `json:"reveal_target"`
}

// Key returns the identity of the message.
func (m Message) Key() MessageKey {
	return MessageKey{Round: m.Round, Role: m.Role}
}

// Revealed reports whether the visible content has caught up with the target.
func (m Message) Revealed() bool {
	return m.Content == m.RevealTarget
}
