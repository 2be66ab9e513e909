/*
Package ledger implements the record-lifecycle state machine at the heart of
TrafficFlo-Z: an owned table of traffic entities, mutated only through three
operations.

  - Registration binds a caller-supplied identifier to an opaque ciphertext
    handle, exactly once. Entities are never deleted.
  - Verification is the one-shot Unverified to Verified transition: an
    externally produced (clear value, proof) pair is checked against the exact
    handle recorded at registration, and the revealed scalar is committed.
  - Adjustment recomputes a signal's cycle time from a verified flow rate via
    a deterministic bounded formula. It requires both entities Verified and
    never touches verification state, so it can run on every control-loop
    tick.

Every operation is all-or-nothing: validation resolves fully, and the
configured store accepts the write, before any in-memory field mutates.
Operations are serialized by a single ledger mutex, which also guards the
read-modify-write in Adjust against lost updates. Rejections are sentinel
errors (ErrDuplicateID, ErrNotFound, ...) that callers match with errors.Is.
*/
package ledger
