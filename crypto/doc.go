/*
Package crypto defines the cryptographic boundary types for TrafficFlo-Z.

The coordinator never performs homomorphic computation and never decrypts
anything. What it handles are:

  - CiphertextHandle: an opaque reference to an encrypted value, produced by
    the external encryption front-end and bound to exactly one entity at
    registration time. The coordinator stores and republishes handles, it does
    not parse them beyond the delegated well-formedness check.
  - Proof: an attestation produced by the external decryption oracle that a
    clear value is the correct opening of a specific handle. Proofs are
    Ed25519 signatures over the opening digest (SHA3-256 of handle || value
    bytes), which binds the proof to the exact handle rather than to an
    identifier.

Key types (PublicKey, PrivateKey, Signature) identify the decryption oracle.
The oracle's signing key is installed once, optionally gated behind a TEE
attestation (see the tdx package).
*/
package crypto
