package provisioning

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/second-state/echokit-box/adapters/config"
	"github.com/second-state/echokit-box/domain/entities"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(config.NewMemory(), zap.NewNop())
}

func TestWriteReadRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.Write(entities.KeyNetworkName, []byte("home-5G")); err != nil {
		t.Fatalf("write network name: %v", err)
	}

	got, err := svc.Read(ctx, entities.KeyNetworkName)
	if err != nil {
		t.Fatalf("read network name: %v", err)
	}
	if string(got) != "home-5G" {
		t.Errorf("read returned %q, want %q", got, "home-5G")
	}
}

func TestOversizedWriteLeavesStoredValueUntouched(t *testing.T) {
	store := config.NewMemory()
	ctx := context.Background()
	if err := store.Set(ctx, entities.KeyNetworkSecret, []byte("old-secret")); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	svc := NewService(store, zap.NewNop())

	long := bytes.Repeat([]byte("a"), 200)
	err := svc.Write(entities.KeyNetworkSecret, long)
	if !errors.Is(err, entities.ErrValidation) {
		t.Fatalf("oversized write returned %v, want ErrValidation", err)
	}

	got, err := svc.Read(ctx, entities.KeyNetworkSecret)
	if err != nil {
		t.Fatalf("read secret: %v", err)
	}
	if string(got) != "old-secret" {
		t.Errorf("stored secret changed to %q after rejected write", got)
	}
}

func TestUnknownAttributeRejected(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Write("wifi_password", []byte("x")); !errors.Is(err, entities.ErrValidation) {
		t.Errorf("unknown attribute write returned %v, want ErrValidation", err)
	}
	if _, err := svc.Read(context.Background(), "wifi_password"); !errors.Is(err, entities.ErrValidation) {
		t.Errorf("unknown attribute read returned %v, want ErrValidation", err)
	}
}

func TestCommitPersistsAtomically(t *testing.T) {
	store := config.NewMemory()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	writes := map[string]string{
		entities.KeyNetworkName:    "home-5G",
		entities.KeyNetworkSecret:  "hunter2",
		entities.KeyBackendAddress: "wss://backend.example/ws",
	}
	for key, value := range writes {
		if err := svc.Write(key, []byte(value)); err != nil {
			t.Fatalf("write %s: %v", key, err)
		}
	}

	id, err := svc.Commit(ctx, entities.StateProvisioning)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if id.NetworkName != "home-5G" || id.BackendAddress != "wss://backend.example/ws" {
		t.Errorf("committed identity = %+v", id)
	}

	loaded, err := LoadIdentity(ctx, store)
	if err != nil {
		t.Fatalf("load after commit: %v", err)
	}
	if loaded != id {
		t.Errorf("persisted identity %+v, want %+v", loaded, id)
	}
}

func TestCommitRefusedMidSession(t *testing.T) {
	svc := newTestService(t)
	for key, value := range map[string]string{
		entities.KeyNetworkName:    "home-5G",
		entities.KeyNetworkSecret:  "hunter2",
		entities.KeyBackendAddress: "wss://backend.example/ws",
	} {
		if err := svc.Write(key, []byte(value)); err != nil {
			t.Fatalf("write %s: %v", key, err)
		}
	}

	for _, state := range []entities.DeviceState{entities.StateStreaming, entities.StateSpeaking} {
		if _, err := svc.Commit(context.Background(), state); !errors.Is(err, ErrCommitNotAllowed) {
			t.Errorf("commit in %s returned %v, want ErrCommitNotAllowed", state, err)
		}
	}
}

func TestCommitRequiresCompleteIdentity(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Write(entities.KeyNetworkName, []byte("home-5G")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := svc.Commit(context.Background(), entities.StateProvisioning); !errors.Is(err, ErrIncomplete) {
		t.Errorf("partial commit returned %v, want ErrIncomplete", err)
	}
}

func TestStagedValueOverridesPersisted(t *testing.T) {
	store := config.NewMemory()
	ctx := context.Background()
	if err := store.Set(ctx, entities.KeyNetworkName, []byte("old-net")); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	svc := NewService(store, zap.NewNop())

	if err := svc.Write(entities.KeyNetworkName, []byte("new-net")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := svc.Read(ctx, entities.KeyNetworkName)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "new-net" {
		t.Errorf("read returned %q, want staged %q", got, "new-net")
	}
}

func TestUpdatedSignalsAfterWrite(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Write(entities.KeyNetworkName, []byte("home-5G")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-svc.Updated():
	default:
		t.Error("no update signal after accepted write")
	}
}
