package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tplussbri/TrafficFlo-Z/crypto"
)

// Config assembles the ledger's collaborators. Scheme and Proofs are
// required; Store and Events are optional.
type Config struct {
	// Scheme validates ciphertext handle well-formedness at registration.
	Scheme crypto.Scheme

	// Proofs checks decryption proofs against registered handles.
	Proofs ProofVerifier

	// Store, if set, receives a write-through of every committed entity state.
	Store Store

	// Events, if set, receives an event for every committed operation.
	Events EventSink

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Ledger is the owned table of traffic entities. All mutation flows through
// RegisterNode, RegisterSignal, Verify, and Adjust; queries return copies.
type Ledger struct {
	scheme crypto.Scheme
	proofs ProofVerifier
	store  Store
	events EventSink
	now    func() time.Time

	mu        sync.RWMutex
	nodes     map[string]*TrafficNode
	signals   map[string]*SignalControl
	nodeIDs   []string
	signalIDs []string
}

// NewLedger creates an empty ledger.
func NewLedger(cfg *Config) (*Ledger, error) {
	if cfg.Scheme == nil {
		return nil, errors.New("ledger requires an encryption scheme")
	}
	if cfg.Proofs == nil {
		return nil, errors.New("ledger requires a proof verifier")
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Ledger{
		scheme:  cfg.Scheme,
		proofs:  cfg.Proofs,
		store:   cfg.Store,
		events:  cfg.Events,
		now:     now,
		nodes:   make(map[string]*TrafficNode),
		signals: make(map[string]*SignalControl),
	}, nil
}

// RegisterNode binds nodeID to an encrypted flow-rate reading. The binding
// is permanent: the handle and threshold never change, and the identifier is
// never reusable. A taken identifier is rejected before the payload is
// looked at, so re-registration always reports ErrDuplicateID.
func (l *Ledger) RegisterNode(nodeID string, encryptedFlowRate crypto.CiphertextHandle, publicThreshold uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.idTaken(nodeID) {
		return ErrDuplicateID
	}
	if err := l.scheme.ValidateHandle(encryptedFlowRate); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}

	node := &TrafficNode{
		NodeID:            nodeID,
		EncryptedFlowRate: crypto.NewCiphertextHandle(encryptedFlowRate),
		PublicThreshold:   publicThreshold,
		LastUpdated:       l.now(),
	}

	if l.store != nil {
		if err := l.store.SaveNode(node); err != nil {
			return fmt.Errorf("persisting node %q: %w", nodeID, err)
		}
	}

	l.nodes[nodeID] = node
	l.nodeIDs = append(l.nodeIDs, nodeID)
	l.emit(Event{Type: NodeRegistered, NodeID: nodeID})
	return nil
}

// RegisterSignal binds signalID to an encrypted cycle-time setting with its
// public [min, max] bounds. As with nodes, a taken identifier is rejected
// before payload validation.
func (l *Ledger) RegisterSignal(signalID string, encryptedCycleTime crypto.CiphertextHandle, minCycle, maxCycle uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.idTaken(signalID) {
		return ErrDuplicateID
	}
	if err := l.scheme.ValidateHandle(encryptedCycleTime); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}
	if minCycle > maxCycle {
		return ErrInvalidBounds
	}

	signal := &SignalControl{
		SignalID:           signalID,
		EncryptedCycleTime: crypto.NewCiphertextHandle(encryptedCycleTime),
		MinCycle:           minCycle,
		MaxCycle:           maxCycle,
	}

	if l.store != nil {
		if err := l.store.SaveSignal(signal); err != nil {
			return fmt.Errorf("persisting signal %q: %w", signalID, err)
		}
	}

	l.signals[signalID] = signal
	l.signalIDs = append(l.signalIDs, signalID)
	l.emit(Event{Type: SignalRegistered, SignalID: signalID})
	return nil
}

// Verify performs the one-shot Unverified to Verified transition for the
// entity (of either kind) named by id. clearValue is the oracle's wire
// encoding of the revealed scalar; proof must open the exact ciphertext
// handle recorded at registration. The returned kind names which table the
// identifier resolved to; it is valid whenever the entity exists.
//
// Rejection order: ErrNotFound, ErrAlreadyVerified, ErrInvalidProof,
// ErrMalformedClearValue. Repeated verification is always rejected, even
// with identical correct material, so a later opening can never displace the
// committed one.
func (l *Ledger) Verify(id string, clearValue []byte, proof crypto.Proof) (EntityKind, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if node, ok := l.nodes[id]; ok {
		return KindNode, l.verifyNode(node, clearValue, proof)
	}
	if signal, ok := l.signals[id]; ok {
		return KindSignal, l.verifySignal(signal, clearValue, proof)
	}
	return "", ErrNotFound
}

func (l *Ledger) verifyNode(node *TrafficNode, clearValue []byte, proof crypto.Proof) error {
	if node.Verified {
		return ErrAlreadyVerified
	}
	if !l.proofs.VerifyOpening(node.EncryptedFlowRate, clearValue, proof) {
		return ErrInvalidProof
	}
	value, err := crypto.DecodeClearValue(clearValue)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedClearValue, err)
	}

	updated := node.clone()
	updated.DecryptedFlowRate = value
	updated.Verified = true
	updated.LastUpdated = l.now()

	if l.store != nil {
		if err := l.store.SaveNode(updated); err != nil {
			return fmt.Errorf("persisting node %q: %w", node.NodeID, err)
		}
	}

	*node = *updated
	l.emit(Event{Type: FlowRateDecrypted, NodeID: node.NodeID, Value: value})
	return nil
}

func (l *Ledger) verifySignal(signal *SignalControl, clearValue []byte, proof crypto.Proof) error {
	if signal.Verified {
		return ErrAlreadyVerified
	}
	if !l.proofs.VerifyOpening(signal.EncryptedCycleTime, clearValue, proof) {
		return ErrInvalidProof
	}
	value, err := crypto.DecodeClearValue(clearValue)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedClearValue, err)
	}

	updated := signal.clone()
	updated.DecryptedCycleTime = value
	updated.Verified = true

	if l.store != nil {
		if err := l.store.SaveSignal(updated); err != nil {
			return fmt.Errorf("persisting signal %q: %w", signal.SignalID, err)
		}
	}

	*signal = *updated
	l.emit(Event{Type: CycleTimeDecrypted, SignalID: signal.SignalID, Value: value})
	return nil
}

// Adjust recomputes the signal's cycle time from the node's verified flow
// rate. Both entities must be verified. The result is clamped to the
// signal's bounds; each call rederives from the current stored cycle time,
// so successive calls model successive control-loop ticks and may drift.
func (l *Ledger) Adjust(nodeID, signalID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	node, ok := l.nodes[nodeID]
	if !ok {
		return ErrNotFound
	}
	signal, ok := l.signals[signalID]
	if !ok {
		return ErrNotFound
	}
	if !node.Verified || !signal.Verified {
		return ErrNotVerified
	}

	newCycle := NextCycleTime(node.DecryptedFlowRate, node.PublicThreshold,
		signal.DecryptedCycleTime, signal.MinCycle, signal.MaxCycle)

	updatedSignal := signal.clone()
	updatedSignal.DecryptedCycleTime = newCycle
	updatedNode := node.clone()
	updatedNode.LastUpdated = l.now()

	if l.store != nil {
		if err := l.store.SaveAdjustment(updatedNode, updatedSignal); err != nil {
			return fmt.Errorf("persisting adjustment of %q and %q: %w", nodeID, signalID, err)
		}
	}

	*signal = *updatedSignal
	*node = *updatedNode
	l.emit(Event{Type: TrafficAdjusted, NodeID: nodeID, SignalID: signalID})
	return nil
}

// NextCycleTime is the adjustment formula. Deterministic and total: above
// the threshold the cycle grows by (flow-threshold)/10, otherwise it shrinks
// by (threshold-flow)/15, never below zero, with the result clamped to
// [minCycle, maxCycle]. Integer division truncates, so repeated low-flow
// ticks can stall at the floor; that is the given behavior, preserved.
func NextCycleTime(flow, threshold, cur, minCycle, maxCycle uint32) uint32 {
	if flow > threshold {
		raw := uint64(cur) + uint64(flow-threshold)/10
		if raw > uint64(maxCycle) {
			return maxCycle
		}
		return uint32(raw)
	}

	dec := (threshold - flow) / 15
	if dec > cur {
		dec = cur
	}
	if cur-dec < minCycle {
		return minCycle
	}
	return cur - dec
}

// GetNode returns an immutable snapshot of the node.
func (l *Ledger) GetNode(nodeID string) (*TrafficNode, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	node, ok := l.nodes[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	return node.clone(), nil
}

// GetSignal returns an immutable snapshot of the signal.
func (l *Ledger) GetSignal(signalID string) (*SignalControl, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	signal, ok := l.signals[signalID]
	if !ok {
		return nil, ErrNotFound
	}
	return signal.clone(), nil
}

// ListNodeIDs returns all node identifiers in insertion order.
func (l *Ledger) ListNodeIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.nodeIDs))
	copy(out, l.nodeIDs)
	return out
}

// ListSignalIDs returns all signal identifiers in insertion order.
func (l *Ledger) ListSignalIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.signalIDs))
	copy(out, l.signalIDs)
	return out
}

// Restore seeds the ledger with previously committed entities, in the order
// given. Used at startup to reload from the store; no validation runs and no
// events are emitted, since these states committed in an earlier run.
func (l *Ledger) Restore(nodes []*TrafficNode, signals []*SignalControl) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, node := range nodes {
		if l.idTaken(node.NodeID) {
			return fmt.Errorf("restoring node %q: %w", node.NodeID, ErrDuplicateID)
		}
		l.nodes[node.NodeID] = node.clone()
		l.nodeIDs = append(l.nodeIDs, node.NodeID)
	}
	for _, signal := range signals {
		if l.idTaken(signal.SignalID) {
			return fmt.Errorf("restoring signal %q: %w", signal.SignalID, ErrDuplicateID)
		}
		l.signals[signal.SignalID] = signal.clone()
		l.signalIDs = append(l.signalIDs, signal.SignalID)
	}
	return nil
}

// idTaken reports whether id names an entity of either kind. Identifiers
// share one namespace so Verify(id) is unambiguous.
func (l *Ledger) idTaken(id string) bool {
	if _, ok := l.nodes[id]; ok {
		return true
	}
	_, ok := l.signals[id]
	return ok
}

func (l *Ledger) emit(ev Event) {
	if l.events == nil {
		return
	}
	ev.At = l.now()
	l.events.Emit(ev)
}
