// Package config loads the single engine-wide setting spec.md §6 names
// (B-tree degree D) plus the storage and cache knobs the ambient stack
// needs, modeled on sokv's own Config struct in bptree_disk.go.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nyan233/ledgertree/store"
)

// Config configures a Ledger (façade) and the AccountTrees it creates.
// Degree applies uniformly across every account tree in the process, as
// spec.md §6 requires.
type Config struct {
	// RootDir is the directory under which per-account node directories
	// (Nodes/<account_id>/) are created.
	RootDir string `yaml:"root_dir"`

	// Degree is the B-tree degree D. Zero means DefaultDegree.
	Degree int `yaml:"degree"`

	// MaxNodeCacheSize is a diagnostic/soft hint passed to NodeStore;
	// it does not bound correctness, only logged cache-pressure events.
	MaxNodeCacheSize int `yaml:"max_node_cache_size"`

	// Logger receives structured events from NodeStore and AccountTree.
	// A nil Logger defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`

	// CipherFactory, if set, is called once per account to build the
	// BlobCipher its NodeStore encrypts node blobs with. A nil
	// CipherFactory leaves node blobs unencrypted. Modeled on sokv's own
	// Config.CipherFactory func() (Cipher, error) in bptree_disk.go.
	CipherFactory func() (store.BlobCipher, error) `yaml:"-"`
}

// DefaultDegree is the B-tree degree used when Config.Degree is zero.
const DefaultDegree = 100

// Resolved returns a copy of c with defaults applied.
func (c Config) Resolved() Config {
	if c.Degree <= 0 {
		c.Degree = DefaultDegree
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Load reads a YAML config file at path, in the style of sokv's own
// Config struct but externalized rather than constructed as a Go
// literal, so Degree and RootDir can be changed without a rebuild.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c.Resolved(), nil
}
