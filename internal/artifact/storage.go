// Package artifact persists trained models and their metadata on disk, one
// current artifact per (vm, metric) key.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/opspulse/opspulse/internal/model"
	"github.com/opspulse/opspulse/internal/models"
)

const (
	modelFile    = "model.json"
	metadataFile = "metadata.json"
)

// Storage lays artifacts out as <root>/<vm>/<metric>/{model,metadata}.json.
// Both files are JSON: the metadata for human-diffable audit, the artifact as
// self-describing structured parameters rather than an opaque blob.
//
// Writes publish atomically: content goes to a temp file in the target
// directory and is renamed into place, so a concurrent reader never observes
// a partially written artifact. A per-key lock additionally serializes
// in-process writers against readers across the two files.
type Storage struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func New(root string) *Storage {
	return &Storage{
		root:  root,
		locks: make(map[string]*sync.RWMutex),
	}
}

func (s *Storage) keyLock(vm, metric string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := vm + "\x00" + metric
	l := s.locks[key]
	if l == nil {
		l = &sync.RWMutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Storage) dir(vm, metric string) string {
	return filepath.Join(s.root, vm, metric)
}

// Save overwrites the current artifact for the key. No versioned history is
// kept beyond the metadata's own timestamp.
//
// The model is renamed into place before the metadata, so the metadata's
// TrainedAt never describes a model that is not yet on disk. Readers in this
// process are serialized by the key lock; an out-of-process reader racing a
// Save can still pair a new model.json with the old metadata.json for the
// instant between the two renames.
func (s *Storage) Save(vm, metric string, trained *model.Trained, meta models.Metadata) error {
	lock := s.keyLock(vm, metric)
	lock.Lock()
	defer lock.Unlock()

	dir := s.dir(vm, metric)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.E(models.KindStorage, "create artifact dir", err)
	}

	if err := writeJSONAtomic(filepath.Join(dir, modelFile), trained); err != nil {
		return models.E(models.KindStorage, "write model artifact", err)
	}
	if err := writeJSONAtomic(filepath.Join(dir, metadataFile), meta); err != nil {
		return models.E(models.KindStorage, "write model metadata", err)
	}
	return nil
}

// Load returns the current artifact and metadata for the key, or a not-found
// error kind when nothing has been saved yet.
func (s *Storage) Load(vm, metric string) (*model.Trained, models.Metadata, error) {
	lock := s.keyLock(vm, metric)
	lock.RLock()
	defer lock.RUnlock()

	dir := s.dir(vm, metric)

	var meta models.Metadata
	if err := readJSON(filepath.Join(dir, metadataFile), &meta); err != nil {
		return nil, models.Metadata{}, err
	}

	var trained model.Trained
	if err := readJSON(filepath.Join(dir, modelFile), &trained); err != nil {
		return nil, models.Metadata{}, err
	}

	if meta.VM != vm || meta.Metric != metric {
		return nil, models.Metadata{}, models.Errf(models.KindStorage,
			"metadata key mismatch: artifact for (%s, %s) found under (%s, %s)", meta.VM, meta.Metric, vm, metric)
	}
	return &trained, meta, nil
}

// Delete removes the artifact for the key. Missing keys are not an error.
func (s *Storage) Delete(vm, metric string) error {
	lock := s.keyLock(vm, metric)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.dir(vm, metric)); err != nil {
		return models.E(models.KindStorage, "delete artifact", err)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.Errf(models.KindNotFound, "no artifact at %s", path)
	}
	if err != nil {
		return models.E(models.KindStorage, "read artifact", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return models.E(models.KindStorage, fmt.Sprintf("decode %s", filepath.Base(path)), err)
	}
	return nil
}
