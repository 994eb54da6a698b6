// Package config handles pagevm.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/pagevm/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "pagevm.toml"

// Config represents a pagevm.toml file.
//
// The json tags name the fields for schema validation and must match the
// toml tags.
type Config struct {
	Heap      Heap      `toml:"heap" json:"heap"`
	PageCache PageCache `toml:"page-cache" json:"page-cache"`
	Log       Log       `toml:"log" json:"log"`
	Server    Server    `toml:"server" json:"server"`
	Store     Store     `toml:"store" json:"store"`
	Catalog   Catalog   `toml:"catalog" json:"catalog"`

	// Dir is the directory containing the pagevm.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Heap sizes the heap slot table.
type Heap struct {
	InitialSlots int `toml:"initial-slots" json:"initial-slots"`
	Headroom     int `toml:"headroom" json:"headroom"`
}

// PageCache sizes the page free lists. Classes = 0 disables caching.
type PageCache struct {
	Classes int `toml:"classes" json:"classes"`
	Depth   int `toml:"depth" json:"depth"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Server configures the inspection listeners.
type Server struct {
	Addr     string `toml:"addr" json:"addr"`
	GRPCAddr string `toml:"grpc-addr" json:"grpc-addr"`
}

// Store locates the snapshot database.
type Store struct {
	Path string `toml:"path" json:"path"`
}

// Catalog locates the type catalog.
type Catalog struct {
	Path string `toml:"path" json:"path"`
}

// Default returns the configuration used when no pagevm.toml exists.
func Default() *Config {
	c := &Config{}
	c.PageCache = PageCache{Classes: vm.DefaultCacheClasses, Depth: vm.DefaultCacheDepth}
	c.applyDefaults()
	return c
}

// Load parses a pagevm.toml file from the given directory, fills in
// defaults and validates the result.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes pagevm.toml text, fills in defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}

	// An explicit zero is meaningful for the cache (it disables it), so
	// only missing keys get defaults.
	if !md.IsDefined("page-cache", "classes") {
		c.PageCache.Classes = vm.DefaultCacheClasses
	}
	if !md.IsDefined("page-cache", "depth") {
		c.PageCache.Depth = vm.DefaultCacheDepth
	}
	c.applyDefaults()

	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a pagevm.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (c *Config) applyDefaults() {
	if c.Heap.InitialSlots == 0 {
		c.Heap.InitialSlots = vm.DefaultHeapSlots
	}
	if c.Heap.Headroom == 0 {
		c.Heap.Headroom = vm.DefaultHeapHeadroom
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "localhost:7420"
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = "localhost:7421"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(".pagevm", "snapshots.db")
	}
}

// RuntimeOptions returns the vm options selected by c.
func (c *Config) RuntimeOptions() []vm.Option {
	return []vm.Option{
		vm.WithHeapSize(c.Heap.InitialSlots, c.Heap.Headroom),
		vm.WithPageCache(c.PageCache.Classes, c.PageCache.Depth),
	}
}

// Resolve makes a relative path from the file relative to the directory
// the file was loaded from.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// StorePath returns the resolved snapshot database path.
func (c *Config) StorePath() string {
	return c.Resolve(c.Store.Path)
}

// CatalogPath returns the resolved catalog path, or "" if none is set.
func (c *Config) CatalogPath() string {
	return c.Resolve(c.Catalog.Path)
}
