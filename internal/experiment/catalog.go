package experiment

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// SourceBuiltin marks definitions compiled into the binary.
const SourceBuiltin = "builtin"

// maxParallelLoads bounds concurrent file parsing in LoadDir.
const maxParallelLoads = 8

// Builtin parses and validates the embedded definitions.
func Builtin() ([]*Definition, error) {
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil, fmt.Errorf("failed to read builtin definitions: %w", err)
	}
	var defs []*Definition
	for _, e := range entries {
		data, err := builtinFS.ReadFile(path.Join("builtin", e.Name()))
		if err != nil {
			return nil, err
		}
		def, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFile parses and validates one definition file.
func LoadFile(file string) (*Definition, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return def, nil
}

// LoadDir parses every *.yaml / *.yml file in dir in parallel. The first
// invalid file fails the whole load. Results are ordered by file name.
func LoadDir(ctx context.Context, dir string) ([]*Definition, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read definitions directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	defs := make([]*Definition, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLoads)
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			def, err := LoadFile(file)
			if err != nil {
				return err
			}
			defs[i] = def
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	seen := make(map[string]string, len(defs))
	for i, def := range defs {
		if prev, dup := seen[def.ID]; dup {
			return nil, nil, fmt.Errorf("experiment %q defined in both %s and %s", def.ID, prev, files[i])
		}
		seen[def.ID] = files[i]
	}
	return defs, files, nil
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Catalog is the set of available definitions. Directory definitions
// shadow built-ins with the same id. It is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	builtin []*Definition
	defs    map[string]*Definition
	sources map[string]string
	logger  *zap.Logger
}

// NewCatalog returns a catalog holding the built-in definitions.
func NewCatalog(logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	builtin, err := Builtin()
	if err != nil {
		return nil, err
	}
	c := &Catalog{builtin: builtin, logger: logger}
	c.swap(nil, nil)
	return c, nil
}

// LoadDir merges the definitions in dir over the built-ins. On error the
// catalog is left unchanged.
func (c *Catalog) LoadDir(ctx context.Context, dir string) (int, error) {
	defs, files, err := LoadDir(ctx, dir)
	if err != nil {
		return 0, err
	}
	c.swap(defs, files)
	c.logger.Info("definitions loaded",
		zap.String("dir", dir),
		zap.Int("files", len(defs)),
		zap.Int("total", c.Len()))
	return len(defs), nil
}

func (c *Catalog) swap(extra []*Definition, files []string) {
	defs := make(map[string]*Definition, len(c.builtin)+len(extra))
	sources := make(map[string]string, len(defs))
	for _, def := range c.builtin {
		defs[def.ID] = def
		sources[def.ID] = SourceBuiltin
	}
	for i, def := range extra {
		if _, shadow := defs[def.ID]; shadow {
			c.logger.Debug("definition shadows builtin", zap.String("id", def.ID))
		}
		defs[def.ID] = def
		sources[def.ID] = files[i]
	}

	c.mu.Lock()
	c.defs = defs
	c.sources = sources
	c.mu.Unlock()
}

// Get returns the definition with id.
func (c *Catalog) Get(id string) (*Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownExperiment)
	}
	return def, nil
}

// Source reports where id was loaded from: SourceBuiltin or a file path.
func (c *Catalog) Source(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sources[id]
}

// List returns every definition ordered by id.
func (c *Catalog) List() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Definition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len is the number of definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}
