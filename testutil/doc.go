// Package testutil provides stand-ins for the two external collaborators the
// coordinator is tested against: an encryption front-end that mints
// envelope-format ciphertext handles, and a decryption oracle that opens them
// and signs proofs. Both are deterministic given their secrets, so tests can
// exercise the full register/verify/adjust lifecycle without the real
// homomorphic-encryption service.
package testutil
