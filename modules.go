package esbridge

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dop251/goja_nodejs/require"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/go-sourcemap/sourcemap"
	"github.com/joeycumines/logiface"
)

// ModuleLoader supplies module sources by name. Implementations report
// missing modules with [ErrModuleNotFound].
type ModuleLoader interface {
	Load(name string) (string, error)
}

// ModuleLoaderFunc adapts a function to [ModuleLoader].
type ModuleLoaderFunc func(name string) (string, error)

// Load implements [ModuleLoader].
func (f ModuleLoaderFunc) Load(name string) (string, error) {
	return f(name)
}

// MapModuleLoader serves modules from memory.
type MapModuleLoader map[string]string

// Load implements [ModuleLoader].
func (m MapModuleLoader) Load(name string) (string, error) {
	if src, ok := m[name]; ok {
		return src, nil
	}
	return "", fmt.Errorf("%w: %s", ErrModuleNotFound, name)
}

// DirModuleLoader serves modules from files below a directory.
type DirModuleLoader string

// Load implements [ModuleLoader].
func (d DirModuleLoader) Load(name string) (string, error) {
	clean := path.Clean("/" + name)[1:]
	b, err := os.ReadFile(filepath.Join(string(d), filepath.FromSlash(clean)))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// module is a module source ready to be compiled by the require registry.
type module struct {
	sourceMap *sourcemap.Consumer
	code      string
	hash      uint64
}

// esmPattern detects top level import or export statements. Dynamic
// import() calls do not match.
var esmPattern = regexp.MustCompile(`(?m)^[ \t]*(?:import[\s{*"']|export[\s{*])`)

// loaderFor selects the esbuild loader for a module, or reports that the
// source can be used as is.
func loaderFor(name, src string) (api.Loader, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS, true
	case ".tsx":
		return api.LoaderTSX, true
	case ".jsx":
		return api.LoaderJSX, true
	case ".json":
		return api.LoaderNone, false
	}
	if esmPattern.MatchString(src) {
		return api.LoaderJS, true
	}
	return api.LoaderNone, false
}

// moduleSet resolves module sources for one session. Worker-only.
type moduleSet struct {
	logger  *logiface.Logger[logiface.Event]
	loader  ModuleLoader
	cache   *moduleCache
	defined map[string]*module
	loaded  map[string]*module
}

func newModuleSet(logger *logiface.Logger[logiface.Event], loader ModuleLoader, cache *moduleCache) *moduleSet {
	return &moduleSet{
		logger:  logger,
		loader:  loader,
		cache:   cache,
		defined: make(map[string]*module),
		loaded:  make(map[string]*module),
	}
}

// transform converts ESM and TypeScript sources to CommonJS.
func (m *moduleSet) transform(name, src string) (*module, error) {
	key := cacheKey{name: name, hash: xxhash.Sum64String(src)}
	if mod, ok := m.cache.get(key); ok {
		return mod, nil
	}

	mod := &module{code: src, hash: key.hash}

	if loader, ok := loaderFor(name, src); ok {
		result := api.Transform(src, api.TransformOptions{
			Loader:     loader,
			Format:     api.FormatCommonJS,
			Target:     api.ES2017,
			Sourcefile: name,
			Sourcemap:  api.SourceMapExternal,
		})
		if len(result.Errors) != 0 {
			return nil, transformError(name, result.Errors)
		}
		mod.code = string(result.Code)
		if len(result.Map) != 0 {
			consumer, err := sourcemap.Parse(name+".map", result.Map)
			if err != nil {
				m.logger.Debug().
					Str("module", name).
					Err(err).
					Log("ignoring unparsable source map")
			} else {
				mod.sourceMap = consumer
			}
		}

		if b := m.logger.Trace(); b.Enabled() {
			b.Str("module", name).
				Int("size", len(mod.code)).
				Log("transformed module")
		}
	}

	m.cache.put(key, mod)
	return mod, nil
}

// define makes src resolvable under name, ahead of the module loader.
func (m *moduleSet) define(name, src string) (*module, error) {
	name = path.Clean(name)
	mod, err := m.transform(name, src)
	if err != nil {
		return nil, err
	}
	if prev, ok := m.loaded[name]; ok && prev.hash != mod.hash {
		return nil, fmt.Errorf("%w: %s", ErrModuleLoaded, name)
	}
	m.defined[name] = mod
	return mod, nil
}

// load is the require.SourceLoader of the session.
func (m *moduleSet) load(p string) ([]byte, error) {
	if mod, ok := m.defined[p]; ok {
		m.loaded[p] = mod
		return []byte(mod.code), nil
	}
	if m.loader == nil {
		return nil, require.ModuleFileDoesNotExistError
	}

	candidates := []string{p}
	if path.Ext(p) == "" {
		candidates = append(candidates, p+".ts")
	}
	for _, name := range candidates {
		src, err := m.loader.Load(name)
		if errors.Is(err, ErrModuleNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("esbridge: load module %s: %w", name, err)
		}
		mod, err := m.transform(name, src)
		if err != nil {
			return nil, err
		}
		m.loaded[p] = mod
		return []byte(mod.code), nil
	}
	return nil, require.ModuleFileDoesNotExistError
}

// mapPosition implements positionMapper for transformed modules.
func (m *moduleSet) mapPosition(filename string, line, column int) (string, int, int, bool) {
	mod, ok := m.loaded[filename]
	if !ok || mod.sourceMap == nil {
		return "", 0, 0, false
	}
	source, _, srcLine, srcColumn, ok := mod.sourceMap.Source(line, column-1)
	if !ok {
		return "", 0, 0, false
	}
	if source == "" {
		source = filename
	}
	return source, srcLine, srcColumn + 1, true
}
