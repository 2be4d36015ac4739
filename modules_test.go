package esbridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntime_loadModule(t *testing.T) {
	r := newTestRuntime(t)

	const greeter = `
		globalThis.loads = (globalThis.loads || 0) + 1;
		module.exports = { greet: function (name) { return 'hi ' + name } };
	`
	require.NoError(t, r.LoadModule(greeter, "greeter"))
	require.NoError(t, r.LoadModule(greeter, "greeter"))

	v, err := r.Eval(`require('greeter').greet('bob') + ' ' + loads`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, "hi bob 1", v)

	err = r.LoadModule(`module.exports = {}`, "greeter")
	assert.ErrorIs(t, err, ErrModuleLoaded)

	// not yet required, so it may still be replaced
	require.NoError(t, r.Do(func(s *Session) {
		_, _ = s.modules.define("later", `module.exports = 1`)
	}))
	require.NoError(t, r.LoadModule(`module.exports = 2`, "later"))
	v, err = r.Eval(`require('later')`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestRuntime_loadModuleESM(t *testing.T) {
	r := newTestRuntime(t)

	require.NoError(t, r.LoadModule(`
		export const answer = 42;
		export default function () { return 'default' }
	`, "esm.js"))

	v, err := r.Eval(`require('esm.js').answer`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = r.Eval(`require('esm.js').default()`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, "default", v)
}

func TestRuntime_moduleLoader(t *testing.T) {
	r := newTestRuntime(t, WithModuleLoader(MapModuleLoader{
		"math.js": `export function add(a, b) { return a + b }`,
		"app.ts": `import { add } from './math.js'
const total: number = add(1, 2)
export default total
`,
		"helper.ts": `export const kind: string = 'typed'`,
		"data.json": `{"n": 5}`,
	}))

	v, err := r.Eval(`require('app.ts').default`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = r.Eval(`require('helper').kind`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, "typed", v)

	v, err = r.Eval(`require('./data.json').n`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	_, err = r.Eval(`require('missing')`, "main.js")
	assert.Error(t, err)

	sum, err := Exec(r, func(s *Session) (int64, error) {
		exports, err := s.Require("math.js")
		if err != nil {
			return 0, err
		}
		add, ok := goja.AssertFunction(exports.ToObject(s.Runtime()).Get("add"))
		if !ok {
			return 0, ErrNotFunction
		}
		v, err := add(goja.Undefined(), s.Runtime().ToValue(2), s.Runtime().ToValue(5))
		if err != nil {
			return 0, err
		}
		return v.ToInteger(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), sum)
}

func TestRuntime_transformError(t *testing.T) {
	r := newTestRuntime(t)

	err := r.LoadModule("export const ok = 1;\nexport const = 1;", "broken.mjs")
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "broken.mjs", se.Filename)
	assert.Equal(t, 2, se.Line)
	assert.Greater(t, se.Column, 0)
	assert.NotEmpty(t, se.Message)
}

func TestRuntime_sourceMappedError(t *testing.T) {
	r := newTestRuntime(t, WithModuleLoader(MapModuleLoader{
		"fail.ts": `type Options = {
  n: number
}

export function run(o: Options): number {
  throw new Error('bad ' + o.n)
}
`,
	}))

	_, err := r.Eval(`require('fail.ts').run({ n: 1 })`, "main.js")
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bad 1", se.Message)
	assert.Equal(t, "fail.ts", se.Filename)
	assert.Equal(t, 6, se.Line)
}

func TestDirModuleLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "util.js"), []byte(`exports.x = 7`), 0o644))

	loader := DirModuleLoader(dir)

	src, err := loader.Load("lib/util.js")
	require.NoError(t, err)
	assert.Equal(t, `exports.x = 7`, src)

	_, err = loader.Load("lib/nope.js")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	_, err = loader.Load("../../lib/util.js")
	require.NoError(t, err, "paths are confined to the directory")

	r := newTestRuntime(t, WithModuleLoader(loader))
	v, err := r.Eval(`require('./lib/util.js').x`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestModuleLoaderFunc(t *testing.T) {
	var requested []string
	r := newTestRuntime(t, WithModuleLoader(ModuleLoaderFunc(func(name string) (string, error) {
		requested = append(requested, name)
		if name == "dynamic.js" {
			return `module.exports = 'generated'`, nil
		}
		return "", ErrModuleNotFound
	})))

	v, err := r.Eval(`require('dynamic.js')`, "main.js")
	require.NoError(t, err)
	assert.Equal(t, "generated", v)

	names, err := Exec(r, func(*Session) ([]string, error) { return requested, nil })
	require.NoError(t, err)
	assert.Contains(t, names, "dynamic.js")
}

func TestLoaderFor(t *testing.T) {
	for _, tc := range [...]struct {
		name, src string
		transform bool
	}{
		{"a.ts", `const a = 1`, true},
		{"a.tsx", `const a = 1`, true},
		{"a.jsx", `const a = 1`, true},
		{"a.mts", `const a = 1`, true},
		{"a.json", `{"export": 1}`, false},
		{"a.js", `module.exports = 1`, false},
		{"a.js", `import x from 'y'`, true},
		{"a.js", "  export { a }", true},
		{"a.js", `const m = import('dynamic')`, false},
		{"a", `export default 1`, true},
	} {
		_, ok := loaderFor(tc.name, tc.src)
		assert.Equal(t, tc.transform, ok, "%s: %s", tc.name, tc.src)
	}
}

func TestModuleCache(t *testing.T) {
	c := newModuleCache(2)
	a, b, d := cacheKey{name: "a"}, cacheKey{name: "b"}, cacheKey{name: "d"}

	c.put(a, &module{code: "a"})
	c.put(b, &module{code: "b"})
	_, ok := c.get(a)
	require.True(t, ok)
	c.put(d, &module{code: "d"})

	assert.Equal(t, 2, c.len())
	_, ok = c.get(b)
	assert.False(t, ok, "least recently used entry is evicted")
	mod, ok := c.get(a)
	require.True(t, ok)
	assert.Equal(t, "a", mod.code)

	disabled := newModuleCache(0)
	disabled.put(a, &module{})
	assert.Equal(t, 0, disabled.len())

	var nilCache *moduleCache
	_, ok = nilCache.get(a)
	assert.False(t, ok)
	nilCache.put(a, &module{})
}

func TestRuntime_moduleCache(t *testing.T) {
	r := newTestRuntime(t)
	require.NoError(t, r.LoadModule(`export const a = 1`, "one.js"))
	require.NoError(t, r.LoadModule(`module.exports = 1`, "plain.js"))
	assert.Equal(t, 2, r.core.cache.len())
}
