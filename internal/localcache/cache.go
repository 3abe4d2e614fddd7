// Package localcache mirrors garage data so reads survive a database outage.
// Records carry an explicit schema version; a version mismatch reads as a
// miss and evicts the stale record instead of attempting a migration.
package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion tags every stored record. Bump it when the cached payload
// shape changes; older records are then invalidated on read.
const SchemaVersion = 1

// ErrMiss reports that no usable record exists for the key.
var ErrMiss = errors.New("localcache: miss")

// Cache is a byte-level key/value store. Backends must return ErrMiss for
// absent keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type record struct {
	SchemaVersion int             `json:"schema_version"`
	StoredAtUnix  int64           `json:"stored_at_s"`
	Payload       json.RawMessage `json:"payload"`
}

// Store serializes value under the current schema version.
func Store(ctx context.Context, cache Cache, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("localcache: encode payload: %w", err)
	}
	encoded, err := json.Marshal(record{
		SchemaVersion: SchemaVersion,
		StoredAtUnix:  time.Now().UTC().Unix(),
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("localcache: encode record: %w", err)
	}
	return cache.Set(ctx, key, encoded)
}

// Load reads the record for key into out. A missing key, an undecodable
// record, or a schema version mismatch all surface as ErrMiss; mismatched
// records are evicted so they are not re-read.
func Load(ctx context.Context, cache Cache, key string, out interface{}) error {
	raw, err := cache.Get(ctx, key)
	if err != nil {
		return err
	}

	var stored record
	if err := json.Unmarshal(raw, &stored); err != nil {
		_ = cache.Delete(ctx, key)
		return ErrMiss
	}
	if stored.SchemaVersion != SchemaVersion {
		_ = cache.Delete(ctx, key)
		return ErrMiss
	}
	if err := json.Unmarshal(stored.Payload, out); err != nil {
		return fmt.Errorf("localcache: decode payload: %w", err)
	}
	return nil
}

// VehiclesKey names the vehicle-list mirror for a garage.
func VehiclesKey(garageID string) string {
	return fmt.Sprintf("garage:%s:vehicles", garageID)
}

// ServiceLogsKey names the service-log mirror for a garage.
func ServiceLogsKey(garageID string) string {
	return fmt.Sprintf("garage:%s:servicelogs", garageID)
}

// LookupKey names the cached registry-lookup details for a plate.
func LookupKey(plate string) string {
	return fmt.Sprintf("lookup:plate:%s", plate)
}
