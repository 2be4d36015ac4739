package esbridge

import (
	_ "embed"
	"sync"

	"github.com/dop251/goja"
)

var (
	//go:embed prelude.js
	preludeSource string

	//go:embed bridge.js
	bridgeSource string
)

const (
	preludeName = "esbridge:prelude"
	bridgeName  = "esbridge:bridge"
)

// engine holds the process wide state shared by every session.
type engine struct {
	prelude *goja.Program
	bridge  *goja.Program
}

// sharedEngine is initialized at most once, by the first session.
var sharedEngine = sync.OnceValues(func() (*engine, error) {
	prelude, err := goja.Compile(preludeName, preludeSource, true)
	if err != nil {
		return nil, err
	}
	bridge, err := goja.Compile(bridgeName, bridgeSource, true)
	if err != nil {
		return nil, err
	}
	return &engine{prelude: prelude, bridge: bridge}, nil
})
