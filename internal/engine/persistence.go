// Package engine implements the embedded document engine and its on-disk persistence.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Persistence handles the disk I/O for the MemStore.
// Each collection lives in its own <collection>.json file.
type Persistence struct {
	DataDir string
	mu      sync.Mutex // Protects concurrent writes to the filesystem
	saved   map[string]uint64
	logger  *zap.SugaredLogger
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string, logger *zap.SugaredLogger) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Persistence{DataDir: dir, saved: make(map[string]uint64), logger: logger}, nil
}

// SaveCollection writes a collection snapshot taken at sequence seq. Snapshots
// older than one already on disk are dropped, so background saves that finish
// out of order never overwrite newer data.
func (p *Persistence) SaveCollection(collection string, seq uint64, docs map[string]map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seq <= p.saved[collection] {
		return
	}
	if len(docs) == 0 {
		if err := os.Remove(p.path(collection)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.logger.Errorw("remove empty collection failed", "collection", collection, "error", err)
			return
		}
		p.saved[collection] = seq
		return
	}
	if err := p.write(collection, docs); err != nil {
		p.logger.Errorw("persist collection failed", "collection", collection, "error", err)
		return
	}
	p.saved[collection] = seq
}

// write stores one collection atomically.
// It MUST be called while holding p.mu.
func (p *Persistence) write(collection string, docs map[string]map[string]any) error {
	filePath := p.path(collection)
	tempPath := filePath + ".tmp"

	bytes, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", collection, err)
	}
	if err := os.WriteFile(tempPath, bytes, 0o644); err != nil {
		return err
	}
	// Rename is atomic on POSIX: readers see either the old file or the new one.
	return os.Rename(tempPath, filePath)
}

func (p *Persistence) path(collection string) string {
	return filepath.Join(p.DataDir, collection+".json")
}

// LoadAll returns all collections found in the data directory.
func (p *Persistence) LoadAll() (map[string]map[string]map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	allData := make(map[string]map[string]map[string]any)

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		collection := strings.TrimSuffix(file.Name(), ".json")

		content, err := os.ReadFile(filepath.Join(p.DataDir, file.Name()))
		if err != nil {
			p.logger.Warnw("could not read collection file", "file", file.Name(), "error", err)
			continue
		}

		var docs map[string]map[string]any
		if err := json.Unmarshal(content, &docs); err != nil {
			p.logger.Warnw("could not unmarshal collection file", "file", file.Name(), "error", err)
			continue
		}
		if len(docs) == 0 {
			continue
		}
		allData[collection] = docs
	}
	return allData, nil
}
