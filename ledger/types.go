package ledger

import (
	"time"

	"github.com/tplussbri/TrafficFlo-Z/crypto"
)

// TrafficNode is a sensor that reported one encrypted flow-rate reading.
// NodeID, the ciphertext handle, and the public threshold are immutable after
// registration. DecryptedFlowRate is written exactly once, by verification;
// the adjustment engine reads it but never writes it.
type TrafficNode struct {
	NodeID            string                  `json:"node_id"`
	EncryptedFlowRate crypto.CiphertextHandle `json:"encrypted_flow_rate"`
	PublicThreshold   uint32                  `json:"public_threshold"`
	DecryptedFlowRate uint32                  `json:"decrypted_flow_rate"`
	Verified          bool                    `json:"verified"`
	LastUpdated       time.Time               `json:"last_updated"`
}

// SignalControl is a signal controller with one encrypted cycle-time setting.
// After verification reveals the initial cycle time, the stored value is
// mutable only through the adjustment engine's bounded formula, and
// MinCycle <= DecryptedCycleTime <= MaxCycle holds after every adjustment.
type SignalControl struct {
	SignalID           string                  `json:"signal_id"`
	EncryptedCycleTime crypto.CiphertextHandle `json:"encrypted_cycle_time"`
	MinCycle           uint32                  `json:"min_cycle"`
	MaxCycle           uint32                  `json:"max_cycle"`
	DecryptedCycleTime uint32                  `json:"decrypted_cycle_time"`
	Verified           bool                    `json:"verified"`
}

func (n *TrafficNode) clone() *TrafficNode {
	c := *n
	c.EncryptedFlowRate = crypto.NewCiphertextHandle(n.EncryptedFlowRate)
	return &c
}

func (s *SignalControl) clone() *SignalControl {
	c := *s
	c.EncryptedCycleTime = crypto.NewCiphertextHandle(s.EncryptedCycleTime)
	return &c
}

// EntityKind discriminates the two entity tables.
type EntityKind string

const (
	KindNode   EntityKind = "node"
	KindSignal EntityKind = "signal"
)

// ProofVerifier is the decryption-oracle collaborator boundary: it decides
// whether a proof attests that clearValue opens the given handle. The ledger
// never inspects proofs itself.
type ProofVerifier interface {
	VerifyOpening(handle crypto.CiphertextHandle, clearValue []byte, proof crypto.Proof) bool
}

// Store persists committed entity states. A store error fails the triggering
// operation before any in-memory mutation, so memory and store never diverge.
type Store interface {
	SaveNode(*TrafficNode) error
	SaveSignal(*SignalControl) error

	// SaveAdjustment persists the post-adjustment states of both entities as
	// one atomic write: either both land or neither does.
	SaveAdjustment(*TrafficNode, *SignalControl) error
}
