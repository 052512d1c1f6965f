package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/incidentd/internal/checkpoint"

// ErrNotFound is returned when a checkpoint or investigation does not exist.
// It is a normal outcome, not a failure: callers check with errors.Is.
var ErrNotFound = errors.New("checkpoint not found")

// Config configures the checkpoint store.
type Config struct {
	// Path is the directory for the store's database files. Required
	// unless InMemory is set.
	Path string

	// InMemory keeps all state in memory. Used by tests.
	InMemory bool

	// SyncWrites forces every write to disk before returning. A lost
	// checkpoint can be the only durable record of an in-flight approval,
	// so this defaults to on.
	SyncWrites bool

	// MaxPerInvestigation caps retained checkpoints per investigation;
	// the oldest beyond the cap are evicted on save (default: 20).
	MaxPerInvestigation int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncWrites:          true,
		MaxPerInvestigation: 20,
	}
}

// Store persists checkpoints in BadgerDB.
//
// Key layout: cp/<investigation>/<checkpoint id> holds the JSON snapshot;
// latest/<investigation> holds the id of the most recent checkpoint. A save
// writes both in one transaction, so a reader can never observe a latest
// pointer referencing a checkpoint that is not durably written. Saves within
// one investigation are serialized; saves across investigations run
// concurrently.
type Store struct {
	config *Config
	db     *badger.DB
	logger *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	saveCounter metric.Int64Counter
	loadCounter metric.Int64Counter

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	closed bool
}

// NewStore opens the checkpoint database and returns a store.
func NewStore(cfg *Config, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxPerInvestigation <= 0 {
		cfg.MaxPerInvestigation = 20
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent checkpoint store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}

	s := &Store{
		config: cfg,
		db:     db,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
		locks:  make(map[string]*sync.Mutex),
	}
	s.initMetrics()
	return s, nil
}

func (s *Store) initMetrics() {
	var err error

	s.saveCounter, err = s.meter.Int64Counter(
		"incidentd.checkpoint.saves_total",
		metric.WithDescription("Total number of checkpoints saved"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}

	s.loadCounter, err = s.meter.Int64Counter(
		"incidentd.checkpoint.loads_total",
		metric.WithDescription("Total number of checkpoints loaded"),
		metric.WithUnit("{load}"),
	)
	if err != nil {
		s.logger.Warn("failed to create load counter", zap.Error(err))
	}
}

func cpPrefix(investigationID string) []byte {
	return []byte("cp/" + investigationID + "/")
}

func cpKey(investigationID, checkpointID string) []byte {
	return []byte("cp/" + investigationID + "/" + checkpointID)
}

func latestKey(investigationID string) []byte {
	return []byte("latest/" + investigationID)
}

// lockFor serializes writes within one investigation while letting saves for
// different investigations proceed concurrently.
func (s *Store) lockFor(investigationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[investigationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[investigationID] = l
	}
	return l
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("checkpoint store is closed")
	}
	return nil
}

// Save writes a checkpoint, moves the investigation's latest pointer, and
// evicts the oldest checkpoints beyond the per-investigation cap, all in one
// transaction. The checkpoint id is assigned if empty; the stored snapshot is
// a value copy with no live references. Returns the checkpoint id.
func (s *Store) Save(ctx context.Context, cp *Checkpoint) (string, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.save")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if cp == nil {
		return "", errors.New("checkpoint is required")
	}
	if cp.InvestigationID == "" {
		return "", errors.New("investigation id is required")
	}
	if !cp.Phase.Valid() {
		return "", fmt.Errorf("invalid phase %q", cp.Phase)
	}

	stored := *cp
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	span.SetAttributes(
		attribute.String("investigation_id", stored.InvestigationID),
		attribute.String("checkpoint_id", stored.ID),
		attribute.String("phase", string(stored.Phase)),
	)

	data, err := json.Marshal(&stored)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}

	lock := s.lockFor(stored.InvestigationID)
	lock.Lock()
	defer lock.Unlock()

	var evicted []string
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(cpKey(stored.InvestigationID, stored.ID), data); err != nil {
			return err
		}
		if err := txn.Set(latestKey(stored.InvestigationID), []byte(stored.ID)); err != nil {
			return err
		}

		entries, err := readEntries(txn, stored.InvestigationID)
		if err != nil {
			return err
		}
		if len(entries) <= s.config.MaxPerInvestigation {
			return nil
		}

		// Oldest-first eviction, strictly by creation time.
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		})
		excess := entries[:len(entries)-s.config.MaxPerInvestigation]
		for _, old := range excess {
			if err := txn.Delete(cpKey(stored.InvestigationID, old.ID)); err != nil {
				return err
			}
			evicted = append(evicted, old.ID)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("save checkpoint: %w", err)
	}

	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("phase", string(stored.Phase)),
		))
	}

	s.logger.Info("saved checkpoint",
		zap.String("investigation_id", stored.InvestigationID),
		zap.String("checkpoint_id", stored.ID),
		zap.String("phase", string(stored.Phase)),
		zap.Int("evicted", len(evicted)),
	)

	return stored.ID, nil
}

// readEntries lists the checkpoint entries for one investigation inside a
// transaction, including writes pending in the same transaction.
func readEntries(txn *badger.Txn, investigationID string) ([]ListEntry, error) {
	prefix := cpPrefix(investigationID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var entries []ListEntry
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var cp Checkpoint
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %w", it.Item().Key(), err)
		}
		entries = append(entries, ListEntry{
			ID:              cp.ID,
			Phase:           cp.Phase,
			Confidence:      cp.Confidence,
			HypothesisCount: len(cp.Hypotheses),
			CreatedAt:       cp.CreatedAt,
		})
	}
	return entries, nil
}

// Load retrieves one checkpoint.
func (s *Store) Load(ctx context.Context, investigationID, checkpointID string) (*Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.load")
	defer span.End()
	span.SetAttributes(
		attribute.String("investigation_id", investigationID),
		attribute.String("checkpoint_id", checkpointID),
	)

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var cp *Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cpKey(investigationID, checkpointID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("checkpoint %s/%s: %w", investigationID, checkpointID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			cp = &Checkpoint{}
			return json.Unmarshal(val, cp)
		})
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	if s.loadCounter != nil {
		s.loadCounter.Add(ctx, 1)
	}
	return cp, nil
}

// LoadLatest retrieves the most recent checkpoint for an investigation in
// O(1) via the latest pointer.
func (s *Store) LoadLatest(ctx context.Context, investigationID string) (*Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.load_latest")
	defer span.End()
	span.SetAttributes(attribute.String("investigation_id", investigationID))

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var latestID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(investigationID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("investigation %s: %w", investigationID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			latestID = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return s.Load(ctx, investigationID, latestID)
}

// List returns checkpoint entries for an investigation, newest first.
func (s *Store) List(ctx context.Context, investigationID string) ([]ListEntry, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.list")
	defer span.End()
	span.SetAttributes(attribute.String("investigation_id", investigationID))

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var entries []ListEntry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entries, err = readEntries(txn, investigationID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	span.SetAttributes(attribute.Int("result_count", len(entries)))
	return entries, nil
}

// ListInvestigations summarizes every investigation with checkpoints.
func (s *Store) ListInvestigations(ctx context.Context) ([]InvestigationSummary, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.list_investigations")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var summaries []InvestigationSummary
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("latest/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			invID := string(it.Item().Key()[len(prefix):])
			entries, err := readEntries(txn, invID)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				continue
			}
			sort.Slice(entries, func(i, j int) bool {
				return entries[i].CreatedAt.After(entries[j].CreatedAt)
			})
			summaries = append(summaries, InvestigationSummary{
				InvestigationID: invID,
				CheckpointCount: len(entries),
				Latest:          entries[0],
			})
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list investigations: %w", err)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].InvestigationID < summaries[j].InvestigationID
	})

	span.SetAttributes(attribute.Int("result_count", len(summaries)))
	return summaries, nil
}

// Delete removes one checkpoint, repointing latest to the newest survivor if
// the deleted checkpoint was the latest. Returns false when the checkpoint
// does not exist.
func (s *Store) Delete(ctx context.Context, investigationID, checkpointID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("investigation_id", investigationID),
		attribute.String("checkpoint_id", checkpointID),
	)

	if err := s.checkOpen(); err != nil {
		return false, err
	}

	lock := s.lockFor(investigationID)
	lock.Lock()
	defer lock.Unlock()

	found := false
	err := s.db.Update(func(txn *badger.Txn) error {
		key := cpKey(investigationID, checkpointID)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		found = true
		if err := txn.Delete(key); err != nil {
			return err
		}

		entries, err := readEntries(txn, investigationID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return txn.Delete(latestKey(investigationID))
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		})
		return txn.Set(latestKey(investigationID), []byte(entries[0].ID))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("delete checkpoint: %w", err)
	}

	if found {
		s.logger.Info("deleted checkpoint",
			zap.String("investigation_id", investigationID),
			zap.String("checkpoint_id", checkpointID),
		)
	}
	return found, nil
}

// DeleteAll removes every checkpoint for an investigation and its latest
// pointer. Returns the number of checkpoints removed.
func (s *Store) DeleteAll(ctx context.Context, investigationID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.delete_all")
	defer span.End()
	span.SetAttributes(attribute.String("investigation_id", investigationID))

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	lock := s.lockFor(investigationID)
	lock.Lock()
	defer lock.Unlock()

	count := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		entries, err := readEntries(txn, investigationID)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := txn.Delete(cpKey(investigationID, entry.ID)); err != nil {
				return err
			}
			count++
		}
		err = txn.Delete(latestKey(investigationID))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("delete investigation checkpoints: %w", err)
	}

	s.logger.Info("deleted investigation checkpoints",
		zap.String("investigation_id", investigationID),
		zap.Int("count", count),
	)
	return count, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
