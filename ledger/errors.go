package ledger

import "errors"

// Every rejection the ledger can produce. All are synchronous, locally
// detected, and leave the entity untouched; none are retried internally.
var (
	// ErrDuplicateID rejects registration under an identifier that already
	// names an entity of either kind.
	ErrDuplicateID = errors.New("identifier already registered")

	// ErrNotFound rejects operations naming an unregistered identifier.
	ErrNotFound = errors.New("identifier not registered")

	// ErrInvalidCiphertext rejects registration with a handle the encryption
	// scheme does not recognize as well-formed.
	ErrInvalidCiphertext = errors.New("malformed ciphertext handle")

	// ErrInvalidBounds rejects signal registration with minCycle > maxCycle.
	ErrInvalidBounds = errors.New("min cycle exceeds max cycle")

	// ErrAlreadyVerified rejects repeated verification. Verification is
	// strictly one-shot, even with identical correct material, so a second
	// revealed value can never displace the first.
	ErrAlreadyVerified = errors.New("entity already verified")

	// ErrInvalidProof rejects a proof that does not validate against the
	// ciphertext handle recorded at registration.
	ErrInvalidProof = errors.New("proof does not open registered ciphertext")

	// ErrMalformedClearValue rejects clear-value bytes that do not decode to
	// an unsigned 32-bit scalar. Checked after proof validity.
	ErrMalformedClearValue = errors.New("clear value does not decode to u32")

	// ErrNotVerified rejects adjustment while either entity is unverified.
	ErrNotVerified = errors.New("entity not verified")
)
