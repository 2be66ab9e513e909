/*
Package services is the HTTP boundary between the ledger core and the excluded
subsystems: the encryption front-end, the distributed decryption oracle, and
the presentation layer.

# Facade

The Facade registers the REST surface on a chi router (mount it on an
api/httpserver.BaseServer for middleware, health endpoints, and lifecycle):

	POST /nodes                    register a traffic node
	POST /signals                  register a signal control
	POST /verify/{id}              one-shot decryption verification
	POST /adjust                   recompute a signal's cycle time
	GET  /nodes                    node identifiers, insertion order
	GET  /nodes/{id}               node snapshot
	GET  /nodes/{id}/ciphertext    handle for the oracle to operate on
	GET  /signals, /signals/{id}, /signals/{id}/ciphertext
	GET  /events                   recent ledger events
	GET  /health                   constant-true liveness probe
	POST /oracle/key               install the oracle's verifying key

Ciphertext blobs arrive base64-encoded and are forwarded unmodified into the
ledger; the facade performs no cryptography beyond the delegated
well-formedness check and, for /oracle/key, optional TEE quote verification.

Ledger rejections map to status codes: NotFound 404, DuplicateId and
AlreadyVerified 409, InvalidProof 403, NotVerified 412, malformed input 400.

# Stores

PostgresStore persists the entity tables (write-through from the ledger,
reload at startup); InMemoryStore is its test double.
*/
package services
