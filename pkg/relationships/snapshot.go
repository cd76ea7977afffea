package relationships

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/Ramsey-B/fern/pkg/models"
)

// snapshotVersion is bumped whenever the on-disk layout changes; older files are discarded.
const snapshotVersion = 1

type snapshotDocument struct {
	Version int           `bson:"version"`
	SavedAt time.Time     `bson:"saved_at"`
	Edges   []models.Edge `bson:"edges"`
}

type snapshotFile struct {
	path string
}

// read returns the stored edges. A missing file is an empty graph.
func (f *snapshotFile) read() ([]models.Edge, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var doc snapshotDocument
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	return doc.Edges, nil
}

// write replaces the snapshot atomically.
func (f *snapshotFile) write(edges []models.Edge) error {
	data, err := bson.Marshal(snapshotDocument{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Edges:   edges,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
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
	return os.Rename(tmp.Name(), f.path)
}
