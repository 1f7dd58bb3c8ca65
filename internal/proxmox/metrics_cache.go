package proxmox

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// CPUMetricCacheMaxAge bounds how long a cached RRD-derived CPU sample is
// trusted before it must be refetched — one hour, matching the RRD
// "timeframe=hour" window the sample itself was computed over (spec.md
// §6: cpu_used is "max over last hour by RRD MAX aggregation").
const CPUMetricCacheMaxAge = time.Hour

// VMCPUSample is a cached, already-reduced RRD sample for one VM: the
// max CPU usage observed over the last hour, in cores.
type VMCPUSample struct {
	VMID      int
	Node      string
	CPUMax    float64 // cores in use, 0.0-NumCPU
	UpdatedAt time.Time
}

// MetricsCache is a sqlite-backed cache of RRD-derived CPU samples,
// avoiding a fresh RRD fetch (the most expensive single call the
// inventory provider makes) for every VM on every rebalance pass.
//
// Adapted from the teacher's DiskCache (cache.go in the upstream repo):
// same singleton-via-sync.Once construction, same schema/statement
// shape, repurposed from caching thin-provisioned disk usage (not needed
// here — storage-aware placement is a non-goal) to caching the one
// per-VM metric this system's objective actually consumes.
type MetricsCache struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

var (
	metricsCacheInstance *MetricsCache
	metricsCacheOnce     sync.Once
	metricsCacheErr      error
)

// GetMetricsCache returns the singleton metrics cache, stored alongside
// the running executable (or in the working directory under `go run`).
func GetMetricsCache() (*MetricsCache, error) {
	metricsCacheOnce.Do(func() {
		exePath, err := os.Executable()
		if err != nil {
			exePath = "."
		}
		exeDir := filepath.Dir(exePath)
		if filepath.Base(exeDir) == "exe" || filepath.Base(exePath) == "main" {
			exeDir = "."
		}
		dbPath := filepath.Join(exeDir, "vmrebalance_cache.db")
		metricsCacheInstance, metricsCacheErr = newMetricsCache(dbPath)
	})
	return metricsCacheInstance, metricsCacheErr
}

func newMetricsCache(dbPath string) (*MetricsCache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics cache database: %w", err)
	}
	c := &MetricsCache{db: db, path: dbPath}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metrics cache schema: %w", err)
	}
	log.Printf("Metrics cache initialized at %s", dbPath)
	return c, nil
}

func (c *MetricsCache) initSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS vm_cpu_cache (
			vmid INTEGER NOT NULL,
			node TEXT NOT NULL,
			cpu_max REAL NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (vmid, node)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create cache table: %w", err)
	}
	_, err = c.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_vm_cpu_cache_updated
		ON vm_cpu_cache(updated_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Get returns a still-valid cached sample for a VM, or nil.
func (c *MetricsCache) Get(vmid int, node string) *VMCPUSample {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sample VMCPUSample
	var updatedAtUnix int64
	err := c.db.QueryRow(`
		SELECT vmid, node, cpu_max, updated_at FROM vm_cpu_cache
		WHERE vmid = ? AND node = ?
	`, vmid, node).Scan(&sample.VMID, &sample.Node, &sample.CPUMax, &updatedAtUnix)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("metrics cache read error for VM %d: %v", vmid, err)
		}
		return nil
	}
	sample.UpdatedAt = time.Unix(updatedAtUnix, 0)
	if time.Since(sample.UpdatedAt) > CPUMetricCacheMaxAge {
		return nil
	}
	return &sample
}

// Set stores a freshly computed sample.
func (c *MetricsCache) Set(vmid int, node string, cpuMax float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO vm_cpu_cache (vmid, node, cpu_max, updated_at)
		VALUES (?, ?, ?, ?)
	`, vmid, node, cpuMax, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to cache CPU sample for VM %d: %w", vmid, err)
	}
	return nil
}

// Cleanup removes entries older than a week.
func (c *MetricsCache) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-7 * 24 * time.Hour).Unix()
	result, err := c.db.Exec(`DELETE FROM vm_cpu_cache WHERE updated_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup metrics cache: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		log.Printf("Cleaned up %d old metrics cache entries", affected)
	}
	return nil
}

// Close closes the underlying database connection.
func (c *MetricsCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
