package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"sync"

	"golang.org/x/crypto/sha3"
)

// CiphertextHandle is an opaque reference to an encrypted scalar. The
// coordinator stores it, republishes it to the decryption oracle, and binds
// proof verification to it. It never interprets the contents.
type CiphertextHandle []byte

// NewCiphertextHandle copies raw handle bytes into an owned handle.
func NewCiphertextHandle(data []byte) CiphertextHandle {
	h := make([]byte, len(data))
	copy(h, data)
	return CiphertextHandle(h)
}

// NewCiphertextHandleFromString decodes the base64 wire form used on the
// facade's JSON surface.
func NewCiphertextHandleFromString(data string) (CiphertextHandle, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}
	return CiphertextHandle(raw), nil
}

// Bytes returns the raw handle bytes.
func (h CiphertextHandle) Bytes() []byte {
	return h
}

// String returns the base64 wire form of the handle.
func (h CiphertextHandle) String() string {
	return base64.StdEncoding.EncodeToString(h)
}

// Equal reports whether two handles reference the same ciphertext.
func (h CiphertextHandle) Equal(other CiphertextHandle) bool {
	return bytes.Equal(h, other)
}

// Scheme is the encryption front-end collaborator interface. The coordinator
// delegates ciphertext well-formedness to it and nothing else.
type Scheme interface {
	// ValidateHandle reports whether the handle is a well-formed, initialized
	// ciphertext reference under this scheme.
	ValidateHandle(h CiphertextHandle) error
}

// Envelope layout produced by the reference front-end: one version byte, a
// 12-byte nonce, and a 4-byte masked payload.
const (
	EnvelopeVersion  = 0x01
	EnvelopeNonceLen = 12
	EnvelopeLen      = 1 + EnvelopeNonceLen + 4
)

var (
	errEmptyHandle      = errors.New("empty ciphertext handle")
	errHandleLength     = errors.New("ciphertext handle has wrong length")
	errHandleVersion    = errors.New("unsupported ciphertext envelope version")
	errClearValueLength = errors.New("clear value is not 4 bytes")
)

// EnvelopeScheme validates handles in the reference envelope format. It is
// the default Scheme for deployments using the bundled encryption front-end.
type EnvelopeScheme struct{}

// ValidateHandle checks the envelope framing. Payload bytes stay opaque.
func (EnvelopeScheme) ValidateHandle(h CiphertextHandle) error {
	switch {
	case len(h) == 0:
		return errEmptyHandle
	case len(h) != EnvelopeLen:
		return errHandleLength
	case h[0] != EnvelopeVersion:
		return errHandleVersion
	}
	return nil
}

// OpeningDigest computes the digest a proof must sign: SHA3-256 over the
// handle bytes followed by the clear-value bytes. Including the handle binds
// the proof to the exact ciphertext recorded at registration, so a proof for
// a different ciphertext cannot be substituted under the same identifier.
func OpeningDigest(handle CiphertextHandle, clearValue []byte) []byte {
	hash := sha3.New256()
	hash.Write(handle)
	hash.Write(clearValue)
	return hash.Sum(nil)
}

// DecodeClearValue decodes the oracle's clear-value wire encoding: a
// big-endian unsigned 32-bit integer, exactly four bytes.
func DecodeClearValue(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, errClearValueLength
	}
	return binary.BigEndian.Uint32(data), nil
}

// EncodeClearValue is the inverse of DecodeClearValue, used by oracle
// implementations and tests.
func EncodeClearValue(value uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, value)
	return buf
}

// Proof attests that a clear value is the correct opening of a ciphertext
// handle. On the wire it is an oracle signature over the opening digest.
type Proof []byte

// NewProofFromString decodes the base64 wire form of a proof.
func NewProofFromString(data string) (Proof, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}
	return Proof(raw), nil
}

// String returns the base64 wire form of the proof.
func (p Proof) String() string {
	return base64.StdEncoding.EncodeToString(p)
}

// SignOpening produces a proof for (handle, clearValue) with the oracle key.
func SignOpening(oracleKey PrivateKey, handle CiphertextHandle, clearValue []byte) (Proof, error) {
	sig, err := Sign(oracleKey, OpeningDigest(handle, clearValue))
	if err != nil {
		return nil, err
	}
	return Proof(sig), nil
}

// OracleVerifier checks proofs against the installed oracle verifying key.
// The key may be installed or rotated after construction; until a key is
// present every proof is rejected.
type OracleVerifier struct {
	mu  sync.RWMutex
	key PublicKey
}

// NewOracleVerifier creates a verifier. A nil key is allowed; install one
// later with SetKey.
func NewOracleVerifier(key PublicKey) *OracleVerifier {
	return &OracleVerifier{key: key}
}

// SetKey installs or replaces the oracle verifying key.
func (v *OracleVerifier) SetKey(key PublicKey) {
	v.mu.Lock()
	v.key = key
	v.mu.Unlock()
}

// Key returns the currently installed verifying key, or nil.
func (v *OracleVerifier) Key() PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key
}

// VerifyOpening reports whether proof is a valid oracle attestation that
// clearValue opens handle.
func (v *OracleVerifier) VerifyOpening(handle CiphertextHandle, clearValue []byte, proof Proof) bool {
	v.mu.RLock()
	key := v.key
	v.mu.RUnlock()

	if len(key) == 0 || len(proof) == 0 {
		return false
	}
	return Signature(proof).Verify(key, OpeningDigest(handle, clearValue))
}
