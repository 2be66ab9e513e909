package ledger_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tplussbri/TrafficFlo-Z/crypto"
	"github.com/tplussbri/TrafficFlo-Z/ledger"
	"github.com/tplussbri/TrafficFlo-Z/testutil"
)

type fixture struct {
	ledger *ledger.Ledger
	front  *testutil.FrontEnd
	oracle *testutil.Oracle
	events *ledger.RingSink
}

func setupLedger(t *testing.T) *fixture {
	t.Helper()

	front := testutil.NewFrontEnd([]byte("front-end secret"))
	oracle, err := testutil.NewOracle(front)
	require.NoError(t, err)

	events := ledger.NewRingSink(64)
	l, err := ledger.NewLedger(&ledger.Config{
		Scheme: front.Scheme(),
		Proofs: crypto.NewOracleVerifier(oracle.PublicKey()),
		Events: events,
	})
	require.NoError(t, err)

	return &fixture{ledger: l, front: front, oracle: oracle, events: events}
}

func (f *fixture) registerNode(t *testing.T, nodeID string, flow, threshold uint32) crypto.CiphertextHandle {
	t.Helper()
	handle, err := f.front.Encrypt(flow)
	require.NoError(t, err)
	require.NoError(t, f.ledger.RegisterNode(nodeID, handle, threshold))
	return handle
}

func (f *fixture) registerSignal(t *testing.T, signalID string, cycle, minCycle, maxCycle uint32) crypto.CiphertextHandle {
	t.Helper()
	handle, err := f.front.Encrypt(cycle)
	require.NoError(t, err)
	require.NoError(t, f.ledger.RegisterSignal(signalID, handle, minCycle, maxCycle))
	return handle
}

func (f *fixture) verify(t *testing.T, id string, handle crypto.CiphertextHandle) ledger.EntityKind {
	t.Helper()
	clear, proof, err := f.oracle.Open(handle)
	require.NoError(t, err)
	kind, err := f.ledger.Verify(id, clear, proof)
	require.NoError(t, err)
	return kind
}

func TestRegisterNode_RoundTrip(t *testing.T) {
	f := setupLedger(t)
	handle := f.registerNode(t, "node-1", 150, 100)

	node, err := f.ledger.GetNode("node-1")
	require.NoError(t, err)
	require.Equal(t, "node-1", node.NodeID)
	require.True(t, handle.Equal(node.EncryptedFlowRate))
	require.Equal(t, uint32(100), node.PublicThreshold)
	require.False(t, node.Verified)
	require.Zero(t, node.DecryptedFlowRate)
}

func TestRegisterNode_DuplicateID(t *testing.T) {
	f := setupLedger(t)
	original := f.registerNode(t, "node-1", 150, 100)

	other, err := f.front.Encrypt(999)
	require.NoError(t, err)
	err = f.ledger.RegisterNode("node-1", other, 7)
	require.ErrorIs(t, err, ledger.ErrDuplicateID)

	// A taken identifier wins over payload validation: even a malformed
	// handle reports the duplicate, not the handle.
	err = f.ledger.RegisterNode("node-1", nil, 7)
	require.ErrorIs(t, err, ledger.ErrDuplicateID)

	// The original entity is untouched.
	node, err := f.ledger.GetNode("node-1")
	require.NoError(t, err)
	require.True(t, original.Equal(node.EncryptedFlowRate))
	require.Equal(t, uint32(100), node.PublicThreshold)
	require.Equal(t, []string{"node-1"}, f.ledger.ListNodeIDs())
}

func TestRegister_SharedNamespace(t *testing.T) {
	f := setupLedger(t)
	f.registerNode(t, "entity-1", 150, 100)

	handle, err := f.front.Encrypt(50)
	require.NoError(t, err)
	err = f.ledger.RegisterSignal("entity-1", handle, 20, 80)
	require.ErrorIs(t, err, ledger.ErrDuplicateID)

	// Still the duplicate when the payload would also be rejected.
	err = f.ledger.RegisterSignal("entity-1", nil, 81, 80)
	require.ErrorIs(t, err, ledger.ErrDuplicateID)
}

func TestRegisterNode_InvalidCiphertext(t *testing.T) {
	f := setupLedger(t)

	for name, handle := range map[string]crypto.CiphertextHandle{
		"empty":         nil,
		"truncated":     crypto.NewCiphertextHandle([]byte{crypto.EnvelopeVersion, 1, 2}),
		"wrong version": crypto.NewCiphertextHandle(make([]byte, crypto.EnvelopeLen)),
	} {
		err := f.ledger.RegisterNode("node-"+name, handle, 100)
		require.ErrorIs(t, err, ledger.ErrInvalidCiphertext, name)
	}
	require.Empty(t, f.ledger.ListNodeIDs())
}

func TestRegisterSignal_InvalidBounds(t *testing.T) {
	f := setupLedger(t)
	handle, err := f.front.Encrypt(50)
	require.NoError(t, err)

	err = f.ledger.RegisterSignal("sig-1", handle, 81, 80)
	require.ErrorIs(t, err, ledger.ErrInvalidBounds)

	// min == max is legal.
	require.NoError(t, f.ledger.RegisterSignal("sig-2", handle, 80, 80))
}

func TestVerify_NodeRoundTrip(t *testing.T) {
	f := setupLedger(t)
	handle := f.registerNode(t, "node-1", 150, 100)
	require.Equal(t, ledger.KindNode, f.verify(t, "node-1", handle))

	node, err := f.ledger.GetNode("node-1")
	require.NoError(t, err)
	require.True(t, node.Verified)
	require.Equal(t, uint32(150), node.DecryptedFlowRate)
}

func TestVerify_NotFound(t *testing.T) {
	f := setupLedger(t)
	_, err := f.ledger.Verify("ghost", crypto.EncodeClearValue(1), nil)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestVerify_OneShot(t *testing.T) {
	f := setupLedger(t)
	handle := f.registerNode(t, "node-1", 150, 100)
	clear, proof, err := f.oracle.Open(handle)
	require.NoError(t, err)

	kind, err := f.ledger.Verify("node-1", clear, proof)
	require.NoError(t, err)
	require.Equal(t, ledger.KindNode, kind)

	// Identical correct material is still rejected.
	_, err = f.ledger.Verify("node-1", clear, proof)
	require.ErrorIs(t, err, ledger.ErrAlreadyVerified)

	// As is anything else.
	_, err = f.ledger.Verify("node-1", crypto.EncodeClearValue(9), nil)
	require.ErrorIs(t, err, ledger.ErrAlreadyVerified)

	node, err := f.ledger.GetNode("node-1")
	require.NoError(t, err)
	require.Equal(t, uint32(150), node.DecryptedFlowRate)
}

func TestVerify_ProofBoundToHandle(t *testing.T) {
	f := setupLedger(t)
	f.registerNode(t, "node-1", 150, 100)

	// A valid proof for a different ciphertext of the same value must not be
	// accepted under node-1.
	otherHandle, err := f.front.Encrypt(150)
	require.NoError(t, err)
	clear, proof, err := f.oracle.Open(otherHandle)
	require.NoError(t, err)

	_, err = f.ledger.Verify("node-1", clear, proof)
	require.ErrorIs(t, err, ledger.ErrInvalidProof)

	node, err := f.ledger.GetNode("node-1")
	require.NoError(t, err)
	require.False(t, node.Verified)
}

func TestVerify_WrongValueRejected(t *testing.T) {
	f := setupLedger(t)
	handle := f.registerNode(t, "node-1", 150, 100)

	_, proof, err := f.oracle.Open(handle)
	require.NoError(t, err)

	// Proof signed over 150, submitted with 151.
	_, err = f.ledger.Verify("node-1", crypto.EncodeClearValue(151), proof)
	require.ErrorIs(t, err, ledger.ErrInvalidProof)
}

func TestVerify_MalformedClearValue(t *testing.T) {
	f := setupLedger(t)
	handle := f.registerNode(t, "node-1", 150, 100)

	// A proof that genuinely signs a wrong-width encoding: proof validity
	// passes, decoding fails. Malformed encoding is its own error, checked
	// after the proof.
	badClear := []byte{0x01, 0x02, 0x03}
	proof, err := f.oracle.SignRaw(handle, badClear)
	require.NoError(t, err)

	_, err = f.ledger.Verify("node-1", badClear, proof)
	require.ErrorIs(t, err, ledger.ErrMalformedClearValue)

	node, err := f.ledger.GetNode("node-1")
	require.NoError(t, err)
	require.False(t, node.Verified)
	require.Zero(t, node.DecryptedFlowRate)
}

func TestAdjust_RequiresBothVerified(t *testing.T) {
	f := setupLedger(t)
	nodeHandle := f.registerNode(t, "node-1", 150, 100)
	sigHandle := f.registerSignal(t, "sig-1", 50, 20, 80)

	require.ErrorIs(t, f.ledger.Adjust("ghost", "sig-1"), ledger.ErrNotFound)
	require.ErrorIs(t, f.ledger.Adjust("node-1", "ghost"), ledger.ErrNotFound)

	// Neither verified.
	require.ErrorIs(t, f.ledger.Adjust("node-1", "sig-1"), ledger.ErrNotVerified)

	f.verify(t, "node-1", nodeHandle)
	require.ErrorIs(t, f.ledger.Adjust("node-1", "sig-1"), ledger.ErrNotVerified)

	sig, err := f.ledger.GetSignal("sig-1")
	require.NoError(t, err)
	require.Zero(t, sig.DecryptedCycleTime)

	f.verify(t, "sig-1", sigHandle)
	require.NoError(t, f.ledger.Adjust("node-1", "sig-1"))
}

func adjustOnce(t *testing.T, flow, threshold, cycle, minCycle, maxCycle uint32) uint32 {
	t.Helper()

	f := setupLedger(t)
	nodeHandle := f.registerNode(t, "node-1", flow, threshold)
	sigHandle := f.registerSignal(t, "sig-1", cycle, minCycle, maxCycle)
	f.verify(t, "node-1", nodeHandle)
	f.verify(t, "sig-1", sigHandle)

	require.NoError(t, f.ledger.Adjust("node-1", "sig-1"))

	sig, err := f.ledger.GetSignal("sig-1")
	require.NoError(t, err)
	return sig.DecryptedCycleTime
}

func TestAdjust_Scenarios(t *testing.T) {
	// Scenario A: above threshold, (150-100)/10 = 5.
	require.Equal(t, uint32(55), adjustOnce(t, 150, 100, 50, 20, 80))

	// Scenario B: below threshold, (100-40)/15 = 4.
	require.Equal(t, uint32(46), adjustOnce(t, 40, 100, 50, 20, 80))

	// Scenario C: clamped to ceiling.
	require.Equal(t, uint32(80), adjustOnce(t, 1000, 100, 75, 20, 80))

	// Scenario D: stays at floor.
	require.Equal(t, uint32(20), adjustOnce(t, 0, 100, 20, 20, 80))
}

func TestAdjust_RepeatedCallsDrift(t *testing.T) {
	f := setupLedger(t)
	nodeHandle := f.registerNode(t, "node-1", 150, 100)
	sigHandle := f.registerSignal(t, "sig-1", 50, 20, 80)
	f.verify(t, "node-1", nodeHandle)
	f.verify(t, "sig-1", sigHandle)

	want := []uint32{55, 60, 65, 70, 75, 80, 80}
	for _, expected := range want {
		require.NoError(t, f.ledger.Adjust("node-1", "sig-1"))
		sig, err := f.ledger.GetSignal("sig-1")
		require.NoError(t, err)
		require.Equal(t, expected, sig.DecryptedCycleTime)
	}

	// Verification state is untouched by adjustment.
	node, err := f.ledger.GetNode("node-1")
	require.NoError(t, err)
	require.True(t, node.Verified)
	require.Equal(t, uint32(150), node.DecryptedFlowRate)
}

func TestNextCycleTime_ClampInvariant(t *testing.T) {
	cases := []struct {
		flow, threshold, cur, min, max uint32
	}{
		{0, 0, 0, 0, 0},
		{4294967295, 0, 80, 20, 80},
		{4294967295, 0, 4294967295, 0, 4294967295},
		{0, 4294967295, 20, 20, 80},
		{100, 100, 50, 20, 80},
		{101, 100, 50, 20, 80},
		{115, 100, 79, 20, 80},
	}
	for _, tc := range cases {
		got := ledger.NextCycleTime(tc.flow, tc.threshold, tc.cur, tc.min, tc.max)
		require.GreaterOrEqual(t, got, tc.min)
		require.LessOrEqual(t, got, tc.max)
	}
}

func TestListIDs_InsertionOrder(t *testing.T) {
	f := setupLedger(t)
	f.registerNode(t, "n-3", 1, 1)
	f.registerNode(t, "n-1", 1, 1)
	f.registerNode(t, "n-2", 1, 1)
	f.registerSignal(t, "s-2", 50, 20, 80)
	f.registerSignal(t, "s-1", 50, 20, 80)

	require.Equal(t, []string{"n-3", "n-1", "n-2"}, f.ledger.ListNodeIDs())
	require.Equal(t, []string{"s-2", "s-1"}, f.ledger.ListSignalIDs())
}

func TestEvents_EmittedOnCommitOnly(t *testing.T) {
	f := setupLedger(t)
	nodeHandle := f.registerNode(t, "node-1", 150, 100)
	sigHandle := f.registerSignal(t, "sig-1", 50, 20, 80)

	// Rejected operations emit nothing.
	_ = f.ledger.RegisterNode("node-1", nodeHandle, 1)
	_, _ = f.ledger.Verify("node-1", crypto.EncodeClearValue(1), nil)

	f.verify(t, "node-1", nodeHandle)
	f.verify(t, "sig-1", sigHandle)
	require.NoError(t, f.ledger.Adjust("node-1", "sig-1"))

	var types []ledger.EventType
	for _, ev := range f.events.Recent() {
		types = append(types, ev.Type)
	}
	require.Equal(t, []ledger.EventType{
		ledger.NodeRegistered,
		ledger.SignalRegistered,
		ledger.FlowRateDecrypted,
		ledger.CycleTimeDecrypted,
		ledger.TrafficAdjusted,
	}, types)

	decrypted := f.events.Recent()[2]
	require.Equal(t, "node-1", decrypted.NodeID)
	require.Equal(t, uint32(150), decrypted.Value)
}

func TestStoreFailure_LeavesMemoryUntouched(t *testing.T) {
	front := testutil.NewFrontEnd([]byte("front-end secret"))
	oracle, err := testutil.NewOracle(front)
	require.NoError(t, err)

	l, err := ledger.NewLedger(&ledger.Config{
		Scheme: front.Scheme(),
		Proofs: crypto.NewOracleVerifier(oracle.PublicKey()),
		Store:  &testutil.FailingStore{},
	})
	require.NoError(t, err)

	handle, err := front.Encrypt(150)
	require.NoError(t, err)

	err = l.RegisterNode("node-1", handle, 100)
	require.Error(t, err)
	require.NotErrorIs(t, err, ledger.ErrDuplicateID)

	_, err = l.GetNode("node-1")
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.Empty(t, l.ListNodeIDs())
}

// adjustFailStore accepts individual entity saves but rejects the combined
// adjustment write, recording the last cycle time each save carried.
type adjustFailStore struct {
	savedCycles map[string]uint32
}

func (s *adjustFailStore) SaveNode(*ledger.TrafficNode) error { return nil }

func (s *adjustFailStore) SaveSignal(signal *ledger.SignalControl) error {
	s.savedCycles[signal.SignalID] = signal.DecryptedCycleTime
	return nil
}

func (s *adjustFailStore) SaveAdjustment(*ledger.TrafficNode, *ledger.SignalControl) error {
	return errors.New("adjustment write failed")
}

func TestAdjust_StoreFailureLeavesNothingBehind(t *testing.T) {
	front := testutil.NewFrontEnd([]byte("front-end secret"))
	oracle, err := testutil.NewOracle(front)
	require.NoError(t, err)

	store := &adjustFailStore{savedCycles: make(map[string]uint32)}
	l, err := ledger.NewLedger(&ledger.Config{
		Scheme: front.Scheme(),
		Proofs: crypto.NewOracleVerifier(oracle.PublicKey()),
		Store:  store,
	})
	require.NoError(t, err)

	nodeHandle, err := front.Encrypt(150)
	require.NoError(t, err)
	sigHandle, err := front.Encrypt(50)
	require.NoError(t, err)
	require.NoError(t, l.RegisterNode("node-1", nodeHandle, 100))
	require.NoError(t, l.RegisterSignal("sig-1", sigHandle, 20, 80))

	clear, proof, err := oracle.Open(nodeHandle)
	require.NoError(t, err)
	_, err = l.Verify("node-1", clear, proof)
	require.NoError(t, err)
	clear, proof, err = oracle.Open(sigHandle)
	require.NoError(t, err)
	_, err = l.Verify("sig-1", clear, proof)
	require.NoError(t, err)

	require.Error(t, l.Adjust("node-1", "sig-1"))

	// Neither side of the adjustment reached memory or the store: the signal
	// still holds its verified cycle time in both places.
	sig, err := l.GetSignal("sig-1")
	require.NoError(t, err)
	require.Equal(t, uint32(50), sig.DecryptedCycleTime)
	require.Equal(t, uint32(50), store.savedCycles["sig-1"])
}

func TestSnapshots_AreCopies(t *testing.T) {
	f := setupLedger(t)
	f.registerNode(t, "node-1", 150, 100)

	snap, err := f.ledger.GetNode("node-1")
	require.NoError(t, err)
	snap.DecryptedFlowRate = 999
	snap.Verified = true
	snap.EncryptedFlowRate[0] ^= 0xff

	fresh, err := f.ledger.GetNode("node-1")
	require.NoError(t, err)
	require.False(t, fresh.Verified)
	require.Zero(t, fresh.DecryptedFlowRate)
	require.Equal(t, byte(crypto.EnvelopeVersion), fresh.EncryptedFlowRate[0])
}

func TestRestore_SeedsWithoutEvents(t *testing.T) {
	f := setupLedger(t)

	nodeHandle, err := f.front.Encrypt(150)
	require.NoError(t, err)
	sigHandle, err := f.front.Encrypt(50)
	require.NoError(t, err)

	nodes := []*ledger.TrafficNode{{
		NodeID:            "node-1",
		EncryptedFlowRate: nodeHandle,
		PublicThreshold:   100,
		DecryptedFlowRate: 150,
		Verified:          true,
		LastUpdated:       time.Now(),
	}}
	signals := []*ledger.SignalControl{{
		SignalID:           "sig-1",
		EncryptedCycleTime: sigHandle,
		MinCycle:           20,
		MaxCycle:           80,
		DecryptedCycleTime: 50,
		Verified:           true,
	}}
	require.NoError(t, f.ledger.Restore(nodes, signals))
	require.Empty(t, f.events.Recent())

	// Restored entities behave like live ones.
	require.NoError(t, f.ledger.Adjust("node-1", "sig-1"))
	sig, err := f.ledger.GetSignal("sig-1")
	require.NoError(t, err)
	require.Equal(t, uint32(55), sig.DecryptedCycleTime)

	// And their identifiers stay reserved.
	err = f.ledger.RegisterNode("node-1", nodeHandle, 1)
	require.ErrorIs(t, err, ledger.ErrDuplicateID)
}

func TestVerify_ConcurrentSingleWinner(t *testing.T) {
	f := setupLedger(t)
	handle := f.registerNode(t, "node-1", 150, 100)
	clear, proof, err := f.oracle.Open(handle)
	require.NoError(t, err)

	const attempts = 16
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Verify("node-1", clear, proof)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ledger.ErrAlreadyVerified)
			rejected++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, attempts-1, rejected)
}
