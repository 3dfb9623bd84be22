// Package device supplies the durable identity of this installation.
//
// The identifier is created once, persisted under a stable key, and never
// regenerated while the storage substrate lives. Sync requests are scoped by
// it on the server side.
package device

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kaiwenho/healthsync/internal/errors"
	"github.com/kaiwenho/healthsync/internal/kv"
	"github.com/kaiwenho/healthsync/internal/logging"
)

// StorageKey is the substrate key holding the device identifier.
const StorageKey = "device_id"

// Identity is the persisted per-device identifier.
type Identity struct {
	store *kv.Store

	mu sync.Mutex
	id string
}

// NewIdentity creates an Identity backed by the given substrate.
func NewIdentity(store *kv.Store) *Identity {
	return &Identity{store: store}
}

// Ensure returns the device identifier, creating and persisting a fresh
// UUID v4 on first use. Subsequent calls always return the stored value.
func (i *Identity) Ensure() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.id != "" {
		return i.id, nil
	}

	raw, found, err := i.store.Get(StorageKey)
	if err != nil {
		return "", errors.Wrap(errors.ErrStoreIO, "failed to read device identity", err)
	}
	if found {
		id := strings.TrimSpace(string(raw))
		if id != "" {
			i.id = id
			return id, nil
		}
		// Empty value counts as corruption: fall through and reinitialize.
		logging.Warn("Persisted device identity was empty, regenerating")
	}

	id := uuid.NewString()
	if err := i.store.Set(StorageKey, []byte(id)); err != nil {
		return "", errors.Wrap(errors.ErrStoreIO, "failed to persist device identity", err)
	}
	i.id = id

	logging.Info("Created device identity", map[string]interface{}{
		"device_id": id,
	})

	return id, nil
}

// Adopt replaces the local identifier with a server-issued one, as returned
// by device registration. An empty id is rejected.
func (i *Identity) Adopt(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New(errors.ErrInvalid, "server-issued device id is empty")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.store.Set(StorageKey, []byte(id)); err != nil {
		return errors.Wrap(errors.ErrStoreIO, "failed to persist device identity", err)
	}
	i.id = id

	logging.Info("Adopted server-issued device identity", map[string]interface{}{
		"device_id": id,
	})

	return nil
}
