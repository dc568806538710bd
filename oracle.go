// Package oracle wires the batch oracle controller, its proof
// verifier, the audit ledger, the persistent store, and the HTTP
// relay into one runnable service.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i5heu/ouroboros-oracle/internal/keyValStore"
	"github.com/i5heu/ouroboros-oracle/pkg/controller"
	"github.com/i5heu/ouroboros-oracle/pkg/events"
	"github.com/i5heu/ouroboros-oracle/pkg/oraclesim"
	"github.com/i5heu/ouroboros-oracle/pkg/proof"
	"github.com/i5heu/ouroboros-oracle/pkg/relay"
	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

// Store keys for persisted state.
const (
	keyControllerState = "controller/state"
	keyEventsSnapshot  = "events/snapshot"
)

var (
	ErrNotStarted = errors.New("oracle: service not started")
	ErrClosed     = errors.New("oracle: service closed")
)

// Config configures the service. Only Paths[0] is used at the moment.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is a free-space threshold for the store.
	MinimumFreeGB int
	// Owner is the initial owner principal. Required.
	Owner types.Principal
	// Providers are granted the provider role on first boot. Ignored
	// when a persisted snapshot is restored.
	Providers []types.Principal
	// Cooldown is the initial per-principal throttle window.
	Cooldown time.Duration
	// SnapshotInterval is the period between state snapshots.
	// Defaults to 30 seconds.
	SnapshotInterval time.Duration
	// Transport issues decryption requests. If nil, a loopback
	// simulated oracle is wired in and its key trusted.
	Transport controller.Transport
	// RelayEnabled serves the HTTP relay when true.
	RelayEnabled bool
	// RelayPort is the preferred relay port. If 0, a default is used.
	RelayPort uint16
	// Logger is an optional structured logger. If nil, a stderr
	// logger is used.
	Logger *slog.Logger
}

// Service is the assembled batch oracle controller service.
type Service struct {
	log    *slog.Logger
	config Config

	storeMu sync.RWMutex
	store   *keyValStore.KeyValStore

	ctrl     *controller.Controller
	ledger   *events.Ledger
	verifier *proof.Verifier
	relay    *relay.Relay
	sim      *oraclesim.Oracle

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// New constructs a service handle. New does not perform I/O or start
// background goroutines. Call Start to initialize subsystems.
func New(conf Config) (*Service, error) {
	if len(conf.Paths) == 0 {
		return nil, fmt.Errorf("at least one path must be provided in config")
	}
	if conf.Owner.IsZero() {
		return nil, fmt.Errorf("owner principal must be provided in config")
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	if conf.SnapshotInterval == 0 {
		conf.SnapshotInterval = 30 * time.Second
	}
	return &Service{
		log:    conf.Logger,
		config: conf,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start opens the store, restores persisted state, and wires the
// controller, verifier, transport, and relay. Start is safe to call
// multiple times; only the first call has effect.
func (s *Service) Start(ctx context.Context) error {
	var startErr error
	s.startOnce.Do(func() {
		dataRoot := s.config.Paths[0]
		if err := os.MkdirAll(dataRoot, 0o700); err != nil {
			startErr = fmt.Errorf("mkdir %s: %w", dataRoot, err)
			return
		}

		kvPath := filepath.Join(dataRoot, "kv")
		if err := os.MkdirAll(kvPath, 0o700); err != nil {
			startErr = fmt.Errorf("mkdir %s: %w", kvPath, err)
			return
		}

		store, err := keyValStore.NewKeyValStore(
			keyValStore.StoreConfig{
				Paths:            []string{kvPath},
				MinimumFreeSpace: s.config.MinimumFreeGB,
			})
		if err != nil {
			startErr = fmt.Errorf("init store: %w", err)
			return
		}

		s.ledger = events.NewLedger(s.log)
		if err := s.restoreLedger(store); err != nil {
			_ = store.Close()
			startErr = err
			return
		}

		s.verifier = proof.NewVerifier()

		transport := s.config.Transport
		if transport == nil {
			sim, err := oraclesim.New(oraclesim.Config{
				Logger: s.log,
			})
			if err != nil {
				_ = store.Close()
				startErr = fmt.Errorf("init loopback oracle: %w", err)
				return
			}
			pub := sim.PublicKey()
			if err := s.verifier.AddOracleKey(&pub); err != nil {
				_ = store.Close()
				startErr = fmt.Errorf("trust loopback oracle key: %w", err)
				return
			}
			s.sim = sim
			transport = sim
		}

		ctrl, err := controller.New(controller.Config{
			Owner:     s.config.Owner,
			Identity:  s.identityBytes(),
			Cooldown:  s.config.Cooldown,
			Transport: transport,
			Verifier:  s.verifier,
			Recorder:  s.ledger,
			Logger:    s.log,
		})
		if err != nil {
			_ = store.Close()
			startErr = fmt.Errorf("init controller: %w", err)
			return
		}

		restored, err := s.restoreController(store, ctrl)
		if err != nil {
			_ = store.Close()
			startErr = err
			return
		}
		if !restored {
			for _, p := range s.config.Providers {
				if err := ctrl.AddProvider(
					ctx, s.config.Owner, p,
				); err != nil {
					_ = store.Close()
					startErr = fmt.Errorf("add provider: %w", err)
					return
				}
			}
		}

		if s.sim != nil {
			s.sim.SetTarget(ctrl)
		}

		s.ctrl = ctrl
		s.storeMu.Lock()
		s.store = store
		s.storeMu.Unlock()

		if s.config.RelayEnabled {
			rl, err := relay.New(relay.Config{
				Controller:    ctrl,
				Ledger:        s.ledger,
				PreferredPort: s.config.RelayPort,
				Logger:        s.log,
			})
			if err != nil {
				startErr = fmt.Errorf("init relay: %w", err)
				return
			}
			if err := rl.Start(ctx); err != nil {
				startErr = err
				return
			}
			s.relay = rl
		}

		go s.snapshotLoop()

		s.started.Store(true)
		s.log.Info("oracle service started",
			"path", dataRoot,
			"restored", restored)
	})
	return startErr
}

// Run starts the service, blocks until ctx is canceled, and performs
// a bounded graceful shutdown. It is a convenience for daemons.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), 10*time.Second,
	)
	defer cancel()
	return s.Close(shutdownCtx)
}

// Close persists a final snapshot and releases all resources. Close
// is idempotent.
func (s *Service) Close(ctx context.Context) error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		if s.started.Load() {
			<-s.doneCh
		}

		if s.relay != nil {
			if err := s.relay.Stop(ctx); err != nil {
				closeErr = errors.Join(closeErr,
					fmt.Errorf("stop relay: %w", err))
			}
		}

		if s.sim != nil {
			s.sim.Close()
		}

		s.storeMu.Lock()
		store := s.store
		s.store = nil
		s.storeMu.Unlock()

		if store != nil {
			if err := s.persist(store); err != nil {
				closeErr = errors.Join(closeErr,
					fmt.Errorf("final snapshot: %w", err))
			}
			if err := store.Close(); err != nil {
				closeErr = errors.Join(closeErr,
					fmt.Errorf("close store: %w", err))
			}
		}

		s.log.Info("oracle service closed")
	})
	return closeErr
}

// Controller returns the controller. Mainly used by integrations and
// tests.
func (s *Service) Controller() (*controller.Controller, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	return s.ctrl, nil
}

// Ledger returns the audit ledger.
func (s *Service) Ledger() (*events.Ledger, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	return s.ledger, nil
}

// Verifier returns the proof verifier, for oracle key administration.
func (s *Service) Verifier() (*proof.Verifier, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	return s.verifier, nil
}

// RelayAddress returns the HTTP relay address, or the empty string if
// the relay is disabled or not started.
func (s *Service) RelayAddress() string {
	if s.relay == nil {
		return ""
	}
	return s.relay.Address()
}

// identityBytes derives the state-hash identity from the owner
// principal. Deployments with different owners never produce
// interchangeable state hashes.
func (s *Service) identityBytes() []byte {
	owner := s.config.Owner
	return append(
		[]byte("ouroboros-oracle/"),
		owner.String()...,
	)
}

// snapshotLoop persists state periodically until Close.
func (s *Service) snapshotLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			store, err := s.storeHandle()
			if err != nil {
				return
			}
			if err := s.persist(store); err != nil {
				s.log.Warn("periodic snapshot failed",
					"error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) storeHandle() (*keyValStore.KeyValStore, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	s.storeMu.RLock()
	store := s.store
	s.storeMu.RUnlock()
	if store == nil {
		return nil, ErrClosed
	}
	return store, nil
}

// persist writes the controller state and the ledger snapshot to the
// store.
func (s *Service) persist(store *keyValStore.KeyValStore) error {
	state, err := json.Marshal(s.ctrl.Snapshot())
	if err != nil {
		return fmt.Errorf("encode controller state: %w", err)
	}
	if err := store.Write(keyControllerState, state); err != nil {
		return err
	}

	ledgerBlob, err := s.ledger.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot ledger: %w", err)
	}
	return store.Write(keyEventsSnapshot, ledgerBlob)
}

// restoreController loads a persisted controller snapshot, if any.
func (s *Service) restoreController(
	store *keyValStore.KeyValStore,
	ctrl *controller.Controller,
) (bool, error) {
	raw, err := store.Read(keyControllerState)
	if errors.Is(err, keyValStore.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read controller state: %w", err)
	}

	var state controller.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return false, fmt.Errorf("decode controller state: %w", err)
	}
	if err := ctrl.Restore(state); err != nil {
		return false, fmt.Errorf("restore controller: %w", err)
	}
	return true, nil
}

// restoreLedger loads a persisted ledger snapshot, if any.
func (s *Service) restoreLedger(
	store *keyValStore.KeyValStore,
) error {
	raw, err := store.Read(keyEventsSnapshot)
	if errors.Is(err, keyValStore.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ledger snapshot: %w", err)
	}
	if err := s.ledger.Restore(raw); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	return nil
}
