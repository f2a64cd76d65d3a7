package replay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/discogs-crawler/internal/storage/local"
)

// ManifestFile is the name of the index inside a fixture directory.
const ManifestFile = "manifest.yaml"

// Manifest maps URLs to recorded HTML files.
type Manifest struct {
	Pages []Entry `yaml:"pages"`
}

// Entry is one recorded page.
type Entry struct {
	URL    string `yaml:"url"`
	Status int    `yaml:"status"`
	File   string `yaml:"file"`
}

// ReadManifest parses dir/manifest.yaml.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile)) // #nosec G304 -- fixture dir comes from config.
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Load builds a Memory browser from a fixture directory. Entries listed more
// than once for the same URL replay in order.
func Load(ctx context.Context, dir string) (*Memory, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	store, err := local.New(local.Config{BaseDir: dir})
	if err != nil {
		return nil, fmt.Errorf("open fixture dir: %w", err)
	}
	mem := NewMemory()
	for _, e := range m.Pages {
		if e.URL == "" {
			return nil, errors.New("manifest entry without url")
		}
		status := e.Status
		if status == 0 {
			status = http.StatusOK
		}
		var html []byte
		if e.File != "" {
			html, err = store.GetObject(ctx, e.File)
			if err != nil {
				return nil, fmt.Errorf("fixture for %s: %w", e.URL, err)
			}
		}
		mem.Add(e.URL, Response{Status: status, HTML: string(html)})
	}
	return mem, nil
}
