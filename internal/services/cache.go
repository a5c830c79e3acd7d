package services

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"retail-segments/internal/models"
)

const cacheVersion = "v2"

// cachedProducts is the gob payload written after a successful aggregation.
type cachedProducts struct {
	Source       string
	Strict       bool
	Products     []models.ProductFeatures
	Stats        models.LoadStats
	LastModified time.Time
}

// ProductCache keeps aggregated products on disk, keyed by source path. An
// entry is stale once the source is modified after it was written.
type ProductCache struct {
	dir string
}

func NewProductCache(dir string) *ProductCache {
	return &ProductCache{dir: dir}
}

func (c *ProductCache) filename(source string, strict bool) string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(source)
	mode := "lenient"
	if strict {
		mode = "strict"
	}
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s_%s.gob", name, mode, cacheVersion))
}

// Load returns the cached products for source, or an error if there is no
// fresh entry.
func (c *ProductCache) Load(source string, strict bool) ([]models.ProductFeatures, models.LoadStats, error) {
	file, err := os.Open(c.filename(source, strict))
	if err != nil {
		return nil, models.LoadStats{}, err
	}
	defer file.Close()

	var data cachedProducts
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return nil, models.LoadStats{}, fmt.Errorf("decode cache: %w", err)
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, models.LoadStats{}, err
	}
	if !info.ModTime().Before(data.LastModified) {
		return nil, models.LoadStats{}, fmt.Errorf("cache is stale")
	}
	return data.Products, data.Stats, nil
}

func (c *ProductCache) Save(source string, strict bool, products []models.ProductFeatures, stats models.LoadStats) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}

	file, err := os.Create(c.filename(source, strict))
	if err != nil {
		return err
	}
	defer file.Close()

	return gob.NewEncoder(file).Encode(cachedProducts{
		Source:       source,
		Strict:       strict,
		Products:     products,
		Stats:        stats,
		LastModified: time.Now(),
	})
}
