package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tplussbri/TrafficFlo-Z/crypto"
	"github.com/tplussbri/TrafficFlo-Z/ledger"
)

// PostgresStore implements ledger.Store with PostgreSQL persistence. A
// serial column records insertion order so a reload preserves enumeration
// order; upserts keep the original serial.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore connects, pings, and migrates.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS traffic_nodes (
		node_id VARCHAR(128) PRIMARY KEY,
		encrypted_flow_rate BYTEA NOT NULL,
		public_threshold BIGINT NOT NULL,
		decrypted_flow_rate BIGINT NOT NULL DEFAULT 0,
		verified BOOLEAN NOT NULL DEFAULT FALSE,
		last_updated TIMESTAMP WITH TIME ZONE NOT NULL,
		seq BIGSERIAL
	);

	CREATE TABLE IF NOT EXISTS signal_controls (
		signal_id VARCHAR(128) PRIMARY KEY,
		encrypted_cycle_time BYTEA NOT NULL,
		min_cycle BIGINT NOT NULL,
		max_cycle BIGINT NOT NULL,
		decrypted_cycle_time BIGINT NOT NULL DEFAULT 0,
		verified BOOLEAN NOT NULL DEFAULT FALSE,
		seq BIGSERIAL
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_seq ON traffic_nodes(seq);
	CREATE INDEX IF NOT EXISTS idx_signals_seq ON signal_controls(seq);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx, so the upserts run
// standalone or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertNode(ctx context.Context, ex execer, node *ledger.TrafficNode) error {
	query := `
	INSERT INTO traffic_nodes
		(node_id, encrypted_flow_rate, public_threshold, decrypted_flow_rate, verified, last_updated)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (node_id) DO UPDATE SET
		decrypted_flow_rate = EXCLUDED.decrypted_flow_rate,
		verified = EXCLUDED.verified,
		last_updated = EXCLUDED.last_updated
	`

	_, err := ex.ExecContext(ctx, query,
		node.NodeID,
		node.EncryptedFlowRate.Bytes(),
		int64(node.PublicThreshold),
		int64(node.DecryptedFlowRate),
		node.Verified,
		node.LastUpdated,
	)
	return err
}

func upsertSignal(ctx context.Context, ex execer, signal *ledger.SignalControl) error {
	query := `
	INSERT INTO signal_controls
		(signal_id, encrypted_cycle_time, min_cycle, max_cycle, decrypted_cycle_time, verified)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (signal_id) DO UPDATE SET
		decrypted_cycle_time = EXCLUDED.decrypted_cycle_time,
		verified = EXCLUDED.verified
	`

	_, err := ex.ExecContext(ctx, query,
		signal.SignalID,
		signal.EncryptedCycleTime.Bytes(),
		int64(signal.MinCycle),
		int64(signal.MaxCycle),
		int64(signal.DecryptedCycleTime),
		signal.Verified,
	)
	return err
}

// SaveNode persists a committed node state.
func (s *PostgresStore) SaveNode(node *ledger.TrafficNode) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return upsertNode(ctx, s.db, node)
}

// SaveSignal persists a committed signal state.
func (s *PostgresStore) SaveSignal(signal *ledger.SignalControl) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return upsertSignal(ctx, s.db, signal)
}

// SaveAdjustment persists both post-adjustment states in one transaction, so
// a failure on either upsert leaves neither table changed.
func (s *PostgresStore) SaveAdjustment(node *ledger.TrafficNode, signal *ledger.SignalControl) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := upsertSignal(ctx, tx, signal); err != nil {
		tx.Rollback()
		return err
	}
	if err := upsertNode(ctx, tx, node); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LoadAll retrieves all persisted entities in insertion order, for seeding a
// ledger at startup via Restore.
func (s *PostgresStore) LoadAll() ([]*ledger.TrafficNode, []*ledger.SignalControl, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nodeRows, err := s.db.QueryContext(ctx, `
		SELECT node_id, encrypted_flow_rate, public_threshold, decrypted_flow_rate, verified, last_updated
		FROM traffic_nodes ORDER BY seq
	`)
	if err != nil {
		return nil, nil, err
	}
	defer nodeRows.Close()

	var nodes []*ledger.TrafficNode
	for nodeRows.Next() {
		var (
			node      ledger.TrafficNode
			handle    []byte
			threshold int64
			flowRate  int64
		)
		if err := nodeRows.Scan(&node.NodeID, &handle, &threshold, &flowRate, &node.Verified, &node.LastUpdated); err != nil {
			return nil, nil, fmt.Errorf("scanning node row: %w", err)
		}
		node.EncryptedFlowRate = crypto.NewCiphertextHandle(handle)
		node.PublicThreshold = uint32(threshold)
		node.DecryptedFlowRate = uint32(flowRate)
		nodes = append(nodes, &node)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, nil, err
	}

	signalRows, err := s.db.QueryContext(ctx, `
		SELECT signal_id, encrypted_cycle_time, min_cycle, max_cycle, decrypted_cycle_time, verified
		FROM signal_controls ORDER BY seq
	`)
	if err != nil {
		return nil, nil, err
	}
	defer signalRows.Close()

	var signals []*ledger.SignalControl
	for signalRows.Next() {
		var (
			signal   ledger.SignalControl
			handle   []byte
			minCycle int64
			maxCycle int64
			cycle    int64
		)
		if err := signalRows.Scan(&signal.SignalID, &handle, &minCycle, &maxCycle, &cycle, &signal.Verified); err != nil {
			return nil, nil, fmt.Errorf("scanning signal row: %w", err)
		}
		signal.EncryptedCycleTime = crypto.NewCiphertextHandle(handle)
		signal.MinCycle = uint32(minCycle)
		signal.MaxCycle = uint32(maxCycle)
		signal.DecryptedCycleTime = uint32(cycle)
		signals = append(signals, &signal)
	}
	if err := signalRows.Err(); err != nil {
		return nil, nil, err
	}

	return nodes, signals, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InMemoryStore implements ledger.Store without a database, for tests and
// single-process deployments.
type InMemoryStore struct {
	nodes     map[string]*ledger.TrafficNode
	signals   map[string]*ledger.SignalControl
	nodeIDs   []string
	signalIDs []string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		nodes:   make(map[string]*ledger.TrafficNode),
		signals: make(map[string]*ledger.SignalControl),
	}
}

// SaveNode stores a copy of the node state.
func (s *InMemoryStore) SaveNode(node *ledger.TrafficNode) error {
	if _, ok := s.nodes[node.NodeID]; !ok {
		s.nodeIDs = append(s.nodeIDs, node.NodeID)
	}
	saved := *node
	saved.EncryptedFlowRate = crypto.NewCiphertextHandle(node.EncryptedFlowRate)
	s.nodes[node.NodeID] = &saved
	return nil
}

// SaveSignal stores a copy of the signal state.
func (s *InMemoryStore) SaveSignal(signal *ledger.SignalControl) error {
	if _, ok := s.signals[signal.SignalID]; !ok {
		s.signalIDs = append(s.signalIDs, signal.SignalID)
	}
	saved := *signal
	saved.EncryptedCycleTime = crypto.NewCiphertextHandle(signal.EncryptedCycleTime)
	s.signals[signal.SignalID] = &saved
	return nil
}

// SaveAdjustment stores both post-adjustment states.
func (s *InMemoryStore) SaveAdjustment(node *ledger.TrafficNode, signal *ledger.SignalControl) error {
	if err := s.SaveSignal(signal); err != nil {
		return err
	}
	return s.SaveNode(node)
}

// LoadAll returns all stored entities in insertion order.
func (s *InMemoryStore) LoadAll() ([]*ledger.TrafficNode, []*ledger.SignalControl, error) {
	nodes := make([]*ledger.TrafficNode, 0, len(s.nodeIDs))
	for _, id := range s.nodeIDs {
		nodes = append(nodes, s.nodes[id])
	}
	signals := make([]*ledger.SignalControl, 0, len(s.signalIDs))
	for _, id := range s.signalIDs {
		signals = append(signals, s.signals[id])
	}
	return nodes, signals, nil
}
