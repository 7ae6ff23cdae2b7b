package storage

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the YAML form of the CTA and document tables.
type Catalog struct {
	CTAs      []CTARow      `yaml:"ctas"`
	Documents []DocumentRow `yaml:"documents"`
}

// FileStore serves a catalog file; used for local runs and previews without
// a database.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) load() (Catalog, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open catalog %s: %w", f.path, err)
	}
	defer fh.Close()

	var c Catalog
	if err := yaml.NewDecoder(fh).Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog %s: %w", f.path, err)
	}
	return c, nil
}

// LoadCTAs re-reads the file on every call so edits show up on refresh.
func (f *FileStore) LoadCTAs(_ context.Context) ([]CTARow, error) {
	c, err := f.load()
	if err != nil {
		return nil, err
	}
	return c.CTAs, nil
}

func (f *FileStore) Document(_ context.Context, id int64) (DocumentRow, error) {
	c, err := f.load()
	if err != nil {
		return DocumentRow{}, err
	}
	for _, d := range c.Documents {
		if d.ID == id {
			return d, nil
		}
	}
	return DocumentRow{}, fmt.Errorf("document %d: %w", id, ErrNotFound)
}
