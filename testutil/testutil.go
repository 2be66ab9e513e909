package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/hkdf"

	"github.com/tplussbri/TrafficFlo-Z/crypto"
	"github.com/tplussbri/TrafficFlo-Z/ledger"
)

// FrontEnd is a stand-in encryption front-end. It mints handles in the
// reference envelope format: a version byte, a random nonce, and the scalar
// masked with an HKDF keystream keyed by the front-end secret. The
// coordinator treats these handles as fully opaque.
type FrontEnd struct {
	secret []byte
}

// NewFrontEnd creates a front-end keyed by secret.
func NewFrontEnd(secret []byte) *FrontEnd {
	s := make([]byte, len(secret))
	copy(s, secret)
	return &FrontEnd{secret: s}
}

// Scheme returns the well-formedness checker matching this front-end's
// handle format.
func (f *FrontEnd) Scheme() crypto.Scheme {
	return crypto.EnvelopeScheme{}
}

// Encrypt mints a fresh handle for value. Each call uses a new nonce, so two
// encryptions of the same value produce distinct handles.
func (f *FrontEnd) Encrypt(value uint32) (crypto.CiphertextHandle, error) {
	nonce := make([]byte, crypto.EnvelopeNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	stream, err := f.keystream(nonce)
	if err != nil {
		return nil, err
	}

	payload := crypto.EncodeClearValue(value)
	handle := make([]byte, 0, crypto.EnvelopeLen)
	handle = append(handle, crypto.EnvelopeVersion)
	handle = append(handle, nonce...)
	for i, b := range payload {
		handle = append(handle, b^stream[i])
	}
	return crypto.CiphertextHandle(handle), nil
}

func (f *FrontEnd) keystream(nonce []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, f.secret, nonce, []byte("trafficflo/envelope/v1"))
	stream := make([]byte, 4)
	if _, err := kdf.Read(stream); err != nil {
		return nil, err
	}
	return stream, nil
}

// Oracle simulates the external decryption service: it shares the front-end
// secret, so it can open handles, and it holds an Ed25519 signing key for
// producing proofs.
type Oracle struct {
	front      *FrontEnd
	signingKey crypto.PrivateKey
	publicKey  crypto.PublicKey
}

// NewOracle creates an oracle able to open handles minted by front.
func NewOracle(front *FrontEnd) (*Oracle, error) {
	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Oracle{front: front, signingKey: priv, publicKey: pub}, nil
}

// PublicKey returns the oracle's verifying key, to be installed on the
// coordinator's proof verifier.
func (o *Oracle) PublicKey() crypto.PublicKey {
	return o.publicKey
}

// Open decrypts the handle and returns the clear-value wire encoding with a
// proof binding it to exactly this handle.
func (o *Oracle) Open(handle crypto.CiphertextHandle) ([]byte, crypto.Proof, error) {
	value, err := o.Decrypt(handle)
	if err != nil {
		return nil, nil, err
	}
	clear := crypto.EncodeClearValue(value)
	proof, err := crypto.SignOpening(o.signingKey, handle, clear)
	if err != nil {
		return nil, nil, err
	}
	return clear, proof, nil
}

// Decrypt recovers the scalar from an envelope-format handle.
func (o *Oracle) Decrypt(handle crypto.CiphertextHandle) (uint32, error) {
	if err := (crypto.EnvelopeScheme{}).ValidateHandle(handle); err != nil {
		return 0, fmt.Errorf("cannot open handle: %w", err)
	}

	nonce := handle[1 : 1+crypto.EnvelopeNonceLen]
	stream, err := o.front.keystream(nonce)
	if err != nil {
		return 0, err
	}

	payload := make([]byte, 4)
	for i, b := range handle[1+crypto.EnvelopeNonceLen:] {
		payload[i] = b ^ stream[i]
	}
	return crypto.DecodeClearValue(payload)
}

// SignRaw signs arbitrary clear-value bytes against a handle, bypassing the
// decrypt step. Tests use it to craft proofs over malformed encodings.
func (o *Oracle) SignRaw(handle crypto.CiphertextHandle, clear []byte) (crypto.Proof, error) {
	return crypto.SignOpening(o.signingKey, handle, clear)
}

// FixedVerifier accepts or rejects every opening, for tests that do not care
// about real proofs.
type FixedVerifier bool

func (v FixedVerifier) VerifyOpening(crypto.CiphertextHandle, []byte, crypto.Proof) bool {
	return bool(v)
}

// FailingStore fails every save with the configured error, for exercising
// write-through failure paths.
type FailingStore struct {
	Err error
}

func (s *FailingStore) failure() error {
	if s.Err != nil {
		return s.Err
	}
	return errors.New("store unavailable")
}

// SaveNode always fails.
func (s *FailingStore) SaveNode(*ledger.TrafficNode) error { return s.failure() }

// SaveSignal always fails.
func (s *FailingStore) SaveSignal(*ledger.SignalControl) error { return s.failure() }

// SaveAdjustment always fails.
func (s *FailingStore) SaveAdjustment(*ledger.TrafficNode, *ledger.SignalControl) error {
	return s.failure()
}
