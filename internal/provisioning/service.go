// Package provisioning exposes the device's three identity attributes over
// the local control channels (BLE GATT and the captive portal) and stages
// writes until the session controller commits them.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
	"github.com/second-state/echokit-box/domain/repositories"
)

// ErrCommitNotAllowed is returned when a commit is attempted mid-session.
var ErrCommitNotAllowed = errors.New("provisioning: commit not allowed in current state")

// ErrIncomplete is returned when a commit is attempted before all three
// attributes have a value.
var ErrIncomplete = errors.New("provisioning: identity incomplete")

// Attributes in the order the control surfaces expose them.
var attributeKeys = []string{
	entities.KeyNetworkName,
	entities.KeyNetworkSecret,
	entities.KeyBackendAddress,
}

// Service owns the provisioning staging area. A valid write of a single
// attribute applies immediately as the new staged value; there is no
// multi-field atomic write on the control surface. Staged values do not
// touch the persisted identity until Commit.
type Service struct {
	store  repositories.ConfigStore
	logger *zap.Logger

	mu     sync.Mutex
	staged map[string][]byte

	updated chan struct{}
}

// NewService creates a provisioning service over the given config store.
func NewService(store repositories.ConfigStore, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		logger:  logger,
		staged:  make(map[string][]byte),
		updated: make(chan struct{}, 1),
	}
}

// Updated signals after every accepted write, so the controller can check
// whether the staged identity became complete.
func (s *Service) Updated() <-chan struct{} {
	return s.updated
}

// Write validates and stages one attribute. Oversized or non-text values
// are rejected without mutating anything; the error travels back over the
// control channel that carried the write.
func (s *Service) Write(key string, value []byte) error {
	if !validKey(key) {
		return fmt.Errorf("%w: unknown attribute %q", entities.ErrValidation, key)
	}
	if err := entities.ValidateAttribute(key, value); err != nil {
		s.logger.Warn("rejected provisioning write",
			zap.String("attribute", key),
			zap.Int("bytes", len(value)),
			zap.Error(err))
		return err
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	s.mu.Lock()
	s.staged[key] = cp
	s.mu.Unlock()

	s.logger.Info("staged provisioning attribute", zap.String("attribute", key))
	select {
	case s.updated <- struct{}{}:
	default:
	}
	return nil
}

// Read returns the staged value, or the persisted value if the attribute
// was never staged this boot, verbatim.
func (s *Service) Read(ctx context.Context, key string) ([]byte, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("%w: unknown attribute %q", entities.ErrValidation, key)
	}
	s.mu.Lock()
	staged, ok := s.staged[key]
	s.mu.Unlock()
	if ok {
		cp := make([]byte, len(staged))
		copy(cp, staged)
		return cp, nil
	}

	value, err := s.store.Get(ctx, key)
	if errors.Is(err, repositories.ErrKeyNotFound) {
		return []byte{}, nil
	}
	return value, err
}

// Staged reports whether all three attributes currently resolve to a
// non-empty value (staged or persisted).
func (s *Service) Staged(ctx context.Context) bool {
	id, err := s.resolve(ctx)
	return err == nil && id.Complete()
}

// Commit folds the staged values over the persisted identity and writes the
// result atomically. Only permitted while the device state allows it —
// never mid-session.
func (s *Service) Commit(ctx context.Context, state entities.DeviceState) (entities.NetworkIdentity, error) {
	if !state.AllowsCommit() {
		return entities.NetworkIdentity{}, fmt.Errorf("%w: state %s", ErrCommitNotAllowed, state)
	}

	id, err := s.resolve(ctx)
	if err != nil {
		return entities.NetworkIdentity{}, err
	}
	if !id.Complete() {
		return entities.NetworkIdentity{}, ErrIncomplete
	}
	if err := id.Validate(); err != nil {
		return entities.NetworkIdentity{}, err
	}

	// Single writer: this is the only path that mutates the store, and the
	// write of all three keys is atomic.
	err = s.store.SetAll(ctx, map[string][]byte{
		entities.KeyNetworkName:    []byte(id.NetworkName),
		entities.KeyNetworkSecret:  []byte(id.NetworkSecret),
		entities.KeyBackendAddress: []byte(id.BackendAddress),
	})
	if err != nil {
		return entities.NetworkIdentity{}, fmt.Errorf("provisioning: persist identity: %w", err)
	}

	s.mu.Lock()
	s.staged = make(map[string][]byte)
	s.mu.Unlock()

	s.logger.Info("provisioning committed",
		zap.String("network", id.NetworkName),
		zap.String("backend", id.BackendAddress))
	return id, nil
}

// resolve merges staged values over persisted ones.
func (s *Service) resolve(ctx context.Context) (entities.NetworkIdentity, error) {
	var id entities.NetworkIdentity
	for _, key := range attributeKeys {
		value, err := s.Read(ctx, key)
		if err != nil {
			return entities.NetworkIdentity{}, err
		}
		switch key {
		case entities.KeyNetworkName:
			id.NetworkName = string(value)
		case entities.KeyNetworkSecret:
			id.NetworkSecret = string(value)
		case entities.KeyBackendAddress:
			id.BackendAddress = string(value)
		}
	}
	return id, nil
}

// LoadIdentity reads the persisted identity, ignoring staged values. It
// returns ErrNotProvisioned if any key is absent.
func LoadIdentity(ctx context.Context, store repositories.ConfigStore) (entities.NetworkIdentity, error) {
	var id entities.NetworkIdentity
	for _, key := range attributeKeys {
		value, err := store.Get(ctx, key)
		if errors.Is(err, repositories.ErrKeyNotFound) {
			return entities.NetworkIdentity{}, entities.ErrNotProvisioned
		}
		if err != nil {
			return entities.NetworkIdentity{}, err
		}
		switch key {
		case entities.KeyNetworkName:
			id.NetworkName = string(value)
		case entities.KeyNetworkSecret:
			id.NetworkSecret = string(value)
		case entities.KeyBackendAddress:
			id.BackendAddress = string(value)
		}
	}
	if !id.Complete() {
		return entities.NetworkIdentity{}, entities.ErrNotProvisioned
	}
	return id, nil
}

func validKey(key string) bool {
	for _, k := range attributeKeys {
		if k == key {
			return true
		}
	}
	return false
}
