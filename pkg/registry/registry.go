// Package registry holds the in-memory cache of known face embeddings.
//
// The cache is only ever replaced by reloading it from the durable
// embedding store. Writes go to the store first and are followed by a
// reload, so the cache can never drift from what is on disk.
package registry

import (
	"fmt"
	"sync"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

// EmbeddingStore is the durable home of the registry contents.
type EmbeddingStore interface {
	Load() ([]recognition.Descriptor, []string, error)
	Save(descriptors []recognition.Descriptor, labels []string) error
	Clear() error
}

// Observer is notified with the embedding count after every reload.
type Observer interface {
	SetRegistryEmbeddings(n int)
}

// Registry matches embeddings against every known identity.
type Registry struct {
	store EmbeddingStore

	// writeMu serializes read-modify-write cycles against the store.
	writeMu sync.Mutex

	mu      sync.RWMutex
	vectors [][]float64
	labels  []string

	observer Observer
}

// New creates an empty registry backed by store. Call Load to populate it.
func New(store EmbeddingStore) *Registry {
	return &Registry{store: store}
}

// SetObserver installs an observer for the embedding count.
func (r *Registry) SetObserver(o Observer) {
	r.mu.Lock()
	r.observer = o
	n := len(r.labels)
	r.mu.Unlock()
	if o != nil {
		o.SetRegistryEmbeddings(n)
	}
}

// Load replaces the cache with the store contents.
func (r *Registry) Load() error {
	descs, labels, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	vectors := make([][]float64, len(descs))
	for i, d := range descs {
		vectors[i] = recognition.Vector(d)
	}

	r.mu.Lock()
	r.vectors = vectors
	r.labels = labels
	observer := r.observer
	r.mu.Unlock()

	if observer != nil {
		observer.SetRegistryEmbeddings(len(labels))
	}
	logging.Component("registry").WithField("embeddings", len(labels)).Debug("registry reloaded")
	return nil
}

// Match returns the identity of the first stored embedding within tolerance,
// in insertion order.
func (r *Registry) Match(d recognition.Descriptor, tolerance float64) (string, bool) {
	probe := recognition.Vector(d)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, known := range r.vectors {
		if recognition.VectorDistance(known, probe) <= tolerance {
			return r.labels[i], true
		}
	}
	return "", false
}

// Count returns the number of cached embeddings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.labels)
}

// CountFor returns the number of cached embeddings labelled name.
func (r *Registry) CountFor(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, l := range r.labels {
		if l == name {
			n++
		}
	}
	return n
}

// Identities returns the distinct labels in first-inserted order.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, l := range r.labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

// Append adds embeddings for name after the existing ones.
func (r *Registry) Append(name string, descriptors []recognition.Descriptor) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	descs, labels, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	for _, d := range descriptors {
		descs = append(descs, d)
		labels = append(labels, name)
	}

	if err := r.store.Save(descs, labels); err != nil {
		return fmt.Errorf("failed to save embeddings: %w", err)
	}

	logging.Component("registry").WithFields(logging.Fields{
		"employee":   name,
		"embeddings": len(descriptors),
	}).Info("embeddings appended")
	return r.Load()
}

// RemoveIdentity drops every embedding labelled name.
func (r *Registry) RemoveIdentity(name string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	descs, labels, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	keptD := make([]recognition.Descriptor, 0, len(descs))
	keptL := make([]string, 0, len(labels))
	for i, l := range labels {
		if l != name {
			keptD = append(keptD, descs[i])
			keptL = append(keptL, l)
		}
	}

	if err := r.store.Save(keptD, keptL); err != nil {
		return fmt.Errorf("failed to save embeddings: %w", err)
	}

	logging.Component("registry").WithFields(logging.Fields{
		"employee": name,
		"removed":  len(labels) - len(keptL),
	}).Info("identity removed")
	return r.Load()
}

// RemoveLast drops the n most recently appended embeddings labelled name,
// leaving any older embeddings for the same name in place.
func (r *Registry) RemoveLast(name string, n int) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	descs, labels, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	drop := make([]bool, len(labels))
	removed := 0
	for i := len(labels) - 1; i >= 0 && removed < n; i-- {
		if labels[i] == name {
			drop[i] = true
			removed++
		}
	}

	keptD := make([]recognition.Descriptor, 0, len(descs)-removed)
	keptL := make([]string, 0, len(labels)-removed)
	for i, l := range labels {
		if !drop[i] {
			keptD = append(keptD, descs[i])
			keptL = append(keptL, l)
		}
	}

	if err := r.store.Save(keptD, keptL); err != nil {
		return fmt.Errorf("failed to save embeddings: %w", err)
	}

	logging.Component("registry").WithFields(logging.Fields{
		"employee": name,
		"removed":  removed,
	}).Info("embeddings rolled back")
	return r.Load()
}

// ClearAll empties the store and the cache.
func (r *Registry) ClearAll() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}

	logging.Component("registry").Info("all embeddings cleared")
	return r.Load()
}
