package services

import (
	"github.com/tplussbri/TrafficFlo-Z/ledger"
)

// RegisterNodeRequest submits an encrypted flow-rate reading. The ciphertext
// is the base64 wire form of an opaque handle minted by the encryption
// front-end.
type RegisterNodeRequest struct {
	NodeID            string `json:"node_id"`
	EncryptedFlowRate string `json:"encrypted_flow_rate"`
	PublicThreshold   uint32 `json:"public_threshold"`
}

// RegisterSignalRequest submits an encrypted cycle-time setting with its
// public bounds.
type RegisterSignalRequest struct {
	SignalID           string `json:"signal_id"`
	EncryptedCycleTime string `json:"encrypted_cycle_time"`
	MinCycle           uint32 `json:"min_cycle"`
	MaxCycle           uint32 `json:"max_cycle"`
}

// VerifyRequest carries the decryption oracle's opening material: the
// clear-value wire encoding and the proof, both base64.
type VerifyRequest struct {
	ClearValue string `json:"clear_value"`
	Proof      string `json:"proof"`
}

// AdjustRequest names the (node, signal) pair for one control-loop tick.
type AdjustRequest struct {
	NodeID   string `json:"node_id"`
	SignalID string `json:"signal_id"`
}

// OracleKeyRequest installs the oracle's hex-encoded Ed25519 verifying key,
// optionally accompanied by a TEE quote over the key bytes.
type OracleKeyRequest struct {
	PublicKey   string `json:"public_key"`
	Attestation []byte `json:"attestation,omitempty"`
}

// StatusResponse reports the outcome of a mutating operation. Rejections
// carry the rejection message in Error.
type StatusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// IDListResponse carries identifier lists in insertion order.
type IDListResponse struct {
	IDs []string `json:"ids"`
}

// CiphertextResponse republishes an entity's opaque handle (base64) for the
// decryption oracle.
type CiphertextResponse struct {
	ID         string `json:"id"`
	Ciphertext string `json:"ciphertext"`
}

// EventsResponse carries recent ledger events, oldest first.
type EventsResponse struct {
	Events []ledger.Event `json:"events"`
}

// HealthResponse is the trivial liveness probe payload.
type HealthResponse struct {
	OK bool `json:"ok"`
}
