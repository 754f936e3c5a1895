// Package registry implements the Model Registry: ingestion of raw
// registration payloads into validated EntityDescriptions, keyed by
// monotonic arrival time. Ingestion does not open a monitoring
// subscription inline — Ingest returns the new RegistryEntry and the
// Lifecycle Controller passes its monitoring address to the Monitoring
// Subscriber Pool, so the Registry does not depend on the Pool.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/mupaco/controlunit/internal/ctlerr"
	"github.com/mupaco/controlunit/internal/declparser"
	"github.com/mupaco/controlunit/internal/logging"
	"github.com/mupaco/controlunit/internal/model"
)

// Registered describes a successful ingestion. Ingest does not construct
// or send it; Ingest returns the RegistryEntry directly.
type Registered struct {
	Entry model.RegistryEntry
}

// Registry holds EntityDescriptions keyed by arrival-time order. It is a
// plain value owned by a lifecycle.ControllerContext, not a package-level
// singleton.
type Registry struct {
	parser *declparser.Parser
	log    *logging.Logger

	mu      sync.RWMutex
	entries []model.RegistryEntry
	nextTie uint32
	lastMs  int64
}

// New builds a Registry backed by parser for persistence.
func New(parser *declparser.Parser, log *logging.Logger) *Registry {
	return &Registry{parser: parser, log: log}
}

// Ingest validates and stores a raw registration payload, returning the
// resulting RegistryEntry. Steps, per the component design: (1) parse+
// validate via the declarative parser, (2) extract the EntityDescription,
// (3) re-validate EntityDescription invariants, (4) assign a monotonic
// key, (5) store under the key (duplicates are never deduplicated — each
// ingestion gets its own entry), (6) on any failure after the payload was
// persisted, best-effort remove it.
func (r *Registry) Ingest(raw []byte, fileName string) (model.RegistryEntry, error) {
	projectName, err := r.parser.AddModel(raw, fileName)
	if err != nil {
		return model.RegistryEntry{}, err
	}

	desc, err := r.parser.LoadProject(projectName)
	if err != nil {
		r.rollback(projectName)
		return model.RegistryEntry{}, err
	}

	if err := desc.Validate(); err != nil {
		r.rollback(projectName)
		return model.RegistryEntry{}, err
	}

	entry := model.RegistryEntry{
		Key:         r.nextKey(),
		Description: desc,
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	if r.log != nil {
		r.log.Info("entity registered", "identifier", desc.Identifier, "project", projectName)
	}
	return entry, nil
}

func (r *Registry) rollback(projectName string) {
	if err := r.parser.Remove(projectName); err != nil && r.log != nil {
		r.log.Warn("failed to roll back declarative payload after ingestion failure", "project", projectName, "error", err)
	}
}

// nextKey assigns a strictly increasing (timestampMillis, tiebreak) key,
// incrementing the tiebreak for entries arriving within the same
// millisecond.
func (r *Registry) nextKey() model.RegistryKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UnixMilli()
	if now == r.lastMs {
		r.nextTie++
	} else {
		r.lastMs = now
		r.nextTie = 0
	}
	return model.RegistryKey{TimestampMillis: now, Tiebreak: r.nextTie}
}

// Count reports the number of entries currently registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Get returns the entry at position index in arrival order, or an error
// if out of range.
func (r *Registry) Get(index int) (model.RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.entries) {
		return model.RegistryEntry{}, ctlerr.New(ctlerr.State, "index out of range")
	}
	return r.entries[index], nil
}

// ByKey returns the entry with an exact key match, if any.
func (r *Registry) ByKey(key model.RegistryKey) (model.RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Key == key {
			return e, true
		}
	}
	return model.RegistryEntry{}, false
}

// Keys returns every registered key in arrival order.
func (r *Registry) Keys() []model.RegistryKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]model.RegistryKey, len(r.entries))
	for i, e := range r.entries {
		keys[i] = e.Key
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}
