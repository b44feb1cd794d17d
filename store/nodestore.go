// Package store implements NodeStore: the per-account node cache and
// directory-backed blob store behind an AccountTree. Nodes are lazily
// read on first Get, written only to the in-memory cache by Put, and
// flushed to disk only by Save — exactly the "lazy read, batched write"
// contract spec.md §4.4 describes.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	cmap "github.com/zbh255/gocode/container/map"

	"github.com/nyan233/ledgertree/errs"
	"github.com/nyan233/ledgertree/node"
)

const nodeFileExt = ".json"

// defaultCacheBranching is the branching factor handed to the backing
// gocode BTreeMap, mirroring the constant sokv's page_cache.go passes
// to cmap.NewBtreeMap for its own dirty/use-count tracking maps.
const defaultCacheBranching = 64

// NodeStore is the per-account node cache plus its persistent backend.
// It is not safe for concurrent use: per spec.md §5, exclusive access
// is the caller's (AccountTree's, ultimately the façade's) job.
type NodeStore struct {
	dir          string
	cache        *cmap.BTreeMap[uint64, *node.Node]
	logger       *slog.Logger
	stats        iStats
	cipher       BlobCipher
	maxCacheSize int
}

// New creates a NodeStore rooted at dir (conventionally Nodes/<account_id>).
// The directory is created lazily on first Save, not here.
func New(dir string, logger *slog.Logger) *NodeStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeStore{
		dir:    dir,
		cache:  cmap.NewBtreeMap[uint64, *node.Node](defaultCacheBranching),
		logger: logger,
	}
}

// NewEncrypted is New plus at-rest encryption of every blob written to
// or read from dir via c.
func NewEncrypted(dir string, logger *slog.Logger, c BlobCipher) *NodeStore {
	s := New(dir, logger)
	s.cipher = c
	return s
}

// Stats returns a snapshot of this store's cache hit/miss and blob I/O
// counters.
func (s *NodeStore) Stats() Stats {
	return s.stats.snapshot()
}

// SetMaxCacheSize sets a soft cache-size hint: once the cache holds
// more than n nodes, Put logs a cache-pressure warning. It does not
// evict anything and does not bound correctness. Zero (the default)
// disables the hint.
func (s *NodeStore) SetMaxCacheSize(n int) {
	s.maxCacheSize = n
}

// Get returns the node for id, materializing it from disk into the
// cache on a miss. It reports (zero, false, nil) if id is unknown to
// both the cache and the backing store.
func (s *NodeStore) Get(id uint64) (node.Node, bool, error) {
	if cached, ok := s.cache.LoadOk(id); ok {
		s.stats.cacheHit.Add(1)
		return *cached, true, nil
	}
	s.stats.cacheMiss.Add(1)
	n, ok, err := s.readBlob(id)
	if err != nil {
		return node.Node{}, false, fmt.Errorf("%w: load node %d: %v", errs.ErrStorageFault, id, err)
	}
	if !ok {
		return node.Node{}, false, nil
	}
	s.cache.StoreOk(id, &n)
	s.stats.blobsRead.Add(1)
	s.logger.Debug("nodestore: cache miss materialized node", "id", id, "dir", s.dir)
	return n, true, nil
}

// Put inserts or replaces the cache entry keyed by n.ID. It never
// touches the backing store; that only happens at Save.
func (s *NodeStore) Put(n node.Node) {
	s.cache.StoreOk(n.ID, &n)
	if s.maxCacheSize > 0 && s.CacheLen() > uint64(s.maxCacheSize) {
		s.logger.Warn("nodestore: cache size exceeds hint", "dir", s.dir, "cached", s.CacheLen(), "max", s.maxCacheSize)
	}
}

// Delete evicts id from the cache and removes its backing blob if
// present. The tree's split does not call it: a root split overwrites
// id 0 in place and a non-root split keeps its id.
func (s *NodeStore) Delete(id uint64) error {
	s.cache.DeleteOk(id)
	path := s.blobPath(id)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove node %d: %v", errs.ErrStorageFault, id, err)
	}
	return nil
}

// List returns every currently cached node. Iteration order is
// unspecified by spec.md but stable within one traversal: the backing
// gocode BTreeMap always walks in ascending key order.
func (s *NodeStore) List() []node.Node {
	out := make([]node.Node, 0, s.CacheLen())
	s.cache.Range(0, func(_ uint64, n *node.Node) bool {
		out = append(out, *n)
		return true
	})
	return out
}

// CacheLen reports how many nodes are currently cached.
func (s *NodeStore) CacheLen() uint64 {
	return uint64(s.cache.Len())
}

// NewID returns an id not currently present in the cache, drawn from a
// uniform 63-bit space and retried on collision, the way sokv's
// freelist allocator retries a page id draw against its free structure.
// Id 0 is reserved for the root and is never returned here.
func (s *NodeStore) NewID() uint64 {
	for {
		id := rand.Uint64() & 0x7fffffffffffffff
		if id == 0 {
			continue
		}
		if _, ok := s.cache.LoadOk(id); ok {
			continue
		}
		return id
	}
}

// Save serializes every cached node to its backing blob under dir,
// creating the directory if needed, so on-disk state matches the cache
// on return. No tombstones are written for ids absent from the cache:
// deletions must already have gone through Delete.
func (s *NodeStore) Save() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", errs.ErrStorageFault, s.dir, err)
	}
	var saveErr error
	s.cache.Range(0, func(id uint64, n *node.Node) bool {
		if err := s.writeBlob(*n); err != nil {
			saveErr = fmt.Errorf("%w: save node %d: %v", errs.ErrStorageFault, id, err)
			return false
		}
		s.stats.blobsSaved.Add(1)
		return true
	})
	if saveErr != nil {
		return saveErr
	}
	s.logger.Info("nodestore: saved", "dir", s.dir, "nodes", s.CacheLen())
	return nil
}

func (s *NodeStore) blobPath(id uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d%s", id, nodeFileExt))
}

func (s *NodeStore) readBlob(id uint64) (node.Node, bool, error) {
	data, err := os.ReadFile(s.blobPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return node.Node{}, false, nil
		}
		return node.Node{}, false, err
	}
	if s.cipher != nil {
		data, err = s.cipher.Open(data)
		if err != nil {
			return node.Node{}, false, fmt.Errorf("%w: decrypt blob for node %d: %v", errs.ErrInvariantViolation, id, err)
		}
	}
	var n node.Node
	if err := json.Unmarshal(data, &n); err != nil {
		return node.Node{}, false, fmt.Errorf("%w: corrupt blob for node %d: %v", errs.ErrInvariantViolation, id, err)
	}
	return n, true, nil
}

func (s *NodeStore) writeBlob(n node.Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if s.cipher != nil {
		data, err = s.cipher.Seal(data)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(s.blobPath(n.ID), data, 0o644)
}
