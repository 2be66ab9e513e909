package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/tplussbri/TrafficFlo-Z/crypto"
	"github.com/tplussbri/TrafficFlo-Z/ledger"
	"github.com/tplussbri/TrafficFlo-Z/metrics"
	"github.com/tplussbri/TrafficFlo-Z/tdx"
)

// TEEProvider abstracts attestation generation and verification for the
// decryption oracle's key registration.
type TEEProvider interface {
	AttestationType() string
	Attest(reportData [64]byte) ([]byte, error)
	Verify(attestationReport []byte, expectedReportData [64]byte) (map[int][]byte, error)
}

// FacadeConfig configures the HTTP boundary.
type FacadeConfig struct {
	// Ledger is the entity table all operations route through.
	Ledger *ledger.Ledger

	// OracleVerifier receives the oracle key installed via POST /oracle/key.
	OracleVerifier *crypto.OracleVerifier

	// AttestationProvider, when set, must validate a quote binding the oracle
	// key before the key is accepted. When nil, keys install unattested
	// (development deployments).
	AttestationProvider TEEProvider

	// Events, when set, is served at GET /events.
	Events *ledger.RingSink

	// AllowedOrigins configures CORS for the dashboard front-end.
	AllowedOrigins []string

	// Log is the structured logger for facade operations.
	Log *slog.Logger
}

// Facade is the collaborator boundary: it accepts opaque ciphertext blobs on
// the way in, republishes handles and events on the way out, and forwards
// everything else to the ledger unmodified.
type Facade struct {
	cfg *FacadeConfig
	log *slog.Logger
}

// NewFacade creates the HTTP facade.
func NewFacade(cfg *FacadeConfig) (*Facade, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("facade requires a ledger")
	}
	if cfg.OracleVerifier == nil {
		return nil, errors.New("facade requires an oracle verifier")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Facade{cfg: cfg, log: log}, nil
}

// RegisterRoutes registers the REST surface with the router.
func (f *Facade) RegisterRoutes(r chi.Router) {
	if len(f.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: f.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Post("/nodes", f.handleRegisterNode)
	r.Post("/signals", f.handleRegisterSignal)
	r.Post("/verify/{id}", f.handleVerify)
	r.Post("/adjust", f.handleAdjust)

	r.Get("/nodes", f.handleListNodes)
	r.Get("/nodes/{id}", f.handleGetNode)
	r.Get("/nodes/{id}/ciphertext", f.handleNodeCiphertext)
	r.Get("/signals", f.handleListSignals)
	r.Get("/signals/{id}", f.handleGetSignal)
	r.Get("/signals/{id}/ciphertext", f.handleSignalCiphertext)

	r.Get("/events", f.handleEvents)
	r.Get("/health", f.handleHealth)
	r.Post("/oracle/key", f.handleOracleKey)
}

func (f *Facade) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req RegisterNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeBadRequest(w, err)
		return
	}
	if req.NodeID == "" {
		f.writeBadRequest(w, errors.New("node_id is required"))
		return
	}

	handle, err := crypto.NewCiphertextHandleFromString(req.EncryptedFlowRate)
	if err != nil {
		f.writeBadRequest(w, fmt.Errorf("encrypted_flow_rate: %w", err))
		return
	}

	if err := f.cfg.Ledger.RegisterNode(req.NodeID, handle, req.PublicThreshold); err != nil {
		f.writeLedgerError(w, err)
		return
	}

	metrics.RegistrationsTotal.WithLabelValues("node").Inc()
	f.writeSuccess(w)
}

func (f *Facade) handleRegisterSignal(w http.ResponseWriter, r *http.Request) {
	var req RegisterSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeBadRequest(w, err)
		return
	}
	if req.SignalID == "" {
		f.writeBadRequest(w, errors.New("signal_id is required"))
		return
	}

	handle, err := crypto.NewCiphertextHandleFromString(req.EncryptedCycleTime)
	if err != nil {
		f.writeBadRequest(w, fmt.Errorf("encrypted_cycle_time: %w", err))
		return
	}

	if err := f.cfg.Ledger.RegisterSignal(req.SignalID, handle, req.MinCycle, req.MaxCycle); err != nil {
		f.writeLedgerError(w, err)
		return
	}

	metrics.RegistrationsTotal.WithLabelValues("signal").Inc()
	f.writeSuccess(w)
}

func (f *Facade) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeBadRequest(w, err)
		return
	}

	clearValue, err := decodeBase64Field("clear_value", req.ClearValue)
	if err != nil {
		f.writeBadRequest(w, err)
		return
	}
	proof, err := crypto.NewProofFromString(req.Proof)
	if err != nil {
		f.writeBadRequest(w, fmt.Errorf("proof: %w", err))
		return
	}

	kind, err := f.cfg.Ledger.Verify(id, clearValue, proof)
	if err != nil {
		f.writeLedgerError(w, err)
		return
	}

	metrics.VerificationsTotal.WithLabelValues(string(kind)).Inc()
	f.writeSuccess(w)
}

func (f *Facade) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeBadRequest(w, err)
		return
	}

	if err := f.cfg.Ledger.Adjust(req.NodeID, req.SignalID); err != nil {
		f.writeLedgerError(w, err)
		return
	}

	metrics.AdjustmentsTotal.Inc()
	f.writeSuccess(w)
}

func (f *Facade) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, &IDListResponse{IDs: f.cfg.Ledger.ListNodeIDs()})
}

func (f *Facade) handleListSignals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, &IDListResponse{IDs: f.cfg.Ledger.ListSignalIDs()})
}

func (f *Facade) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := f.cfg.Ledger.GetNode(chi.URLParam(r, "id"))
	if err != nil {
		f.writeLedgerError(w, err)
		return
	}
	writeJSON(w, node)
}

func (f *Facade) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	signal, err := f.cfg.Ledger.GetSignal(chi.URLParam(r, "id"))
	if err != nil {
		f.writeLedgerError(w, err)
		return
	}
	writeJSON(w, signal)
}

func (f *Facade) handleNodeCiphertext(w http.ResponseWriter, r *http.Request) {
	node, err := f.cfg.Ledger.GetNode(chi.URLParam(r, "id"))
	if err != nil {
		f.writeLedgerError(w, err)
		return
	}
	writeJSON(w, &CiphertextResponse{ID: node.NodeID, Ciphertext: node.EncryptedFlowRate.String()})
}

func (f *Facade) handleSignalCiphertext(w http.ResponseWriter, r *http.Request) {
	signal, err := f.cfg.Ledger.GetSignal(chi.URLParam(r, "id"))
	if err != nil {
		f.writeLedgerError(w, err)
		return
	}
	writeJSON(w, &CiphertextResponse{ID: signal.SignalID, Ciphertext: signal.EncryptedCycleTime.String()})
}

func (f *Facade) handleEvents(w http.ResponseWriter, r *http.Request) {
	resp := &EventsResponse{Events: []ledger.Event{}}
	if f.cfg.Events != nil {
		resp.Events = f.cfg.Events.Recent()
	}
	writeJSON(w, resp)
}

func (f *Facade) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, &HealthResponse{OK: true})
}

func (f *Facade) handleOracleKey(w http.ResponseWriter, r *http.Request) {
	var req OracleKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeBadRequest(w, err)
		return
	}

	key, err := crypto.NewPublicKeyFromString(req.PublicKey)
	if err != nil {
		f.writeBadRequest(w, fmt.Errorf("public_key: %w", err))
		return
	}

	if f.cfg.AttestationProvider != nil {
		reportData := tdx.ReportDataForOracleKey(key.Bytes())
		if _, err := f.cfg.AttestationProvider.Verify(req.Attestation, reportData); err != nil {
			f.log.Warn("Rejected oracle key", "err", err)
			metrics.RejectionsTotal.WithLabelValues("invalid_attestation").Inc()
			f.writeError(w, http.StatusForbidden, fmt.Errorf("attestation verification failed: %w", err))
			return
		}
	}

	f.cfg.OracleVerifier.SetKey(key)
	f.log.Info("Oracle verifying key installed", "publicKey", key.String())
	f.writeSuccess(w)
}

func (f *Facade) writeSuccess(w http.ResponseWriter) {
	writeJSON(w, &StatusResponse{Success: true})
}

func (f *Facade) writeBadRequest(w http.ResponseWriter, err error) {
	metrics.RejectionsTotal.WithLabelValues("bad_request").Inc()
	f.writeError(w, http.StatusBadRequest, err)
}

// writeError reports a rejection as a StatusResponse body, so clients get
// the same JSON shape on every outcome.
func (f *Facade) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&StatusResponse{Error: err.Error()})
}

// writeLedgerError maps ledger sentinels to HTTP status codes.
func (f *Facade) writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	reason := "internal"

	switch {
	case errors.Is(err, ledger.ErrNotFound):
		status, reason = http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrDuplicateID):
		status, reason = http.StatusConflict, "duplicate_id"
	case errors.Is(err, ledger.ErrAlreadyVerified):
		status, reason = http.StatusConflict, "already_verified"
	case errors.Is(err, ledger.ErrInvalidProof):
		status, reason = http.StatusForbidden, "invalid_proof"
	case errors.Is(err, ledger.ErrNotVerified):
		status, reason = http.StatusPreconditionFailed, "not_verified"
	case errors.Is(err, ledger.ErrInvalidCiphertext):
		status, reason = http.StatusBadRequest, "invalid_ciphertext"
	case errors.Is(err, ledger.ErrInvalidBounds):
		status, reason = http.StatusBadRequest, "invalid_bounds"
	case errors.Is(err, ledger.ErrMalformedClearValue):
		status, reason = http.StatusBadRequest, "malformed_clear_value"
	default:
		f.log.Error("Ledger operation failed", "err", err)
	}

	metrics.RejectionsTotal.WithLabelValues(reason).Inc()
	f.writeError(w, status, err)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func decodeBase64Field(name, value string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return raw, nil
}
