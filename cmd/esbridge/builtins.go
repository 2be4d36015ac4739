package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-esbridge"
)

// registerBuiltins exposes host operations to scripts run by the command:
//
//	esbridge.invoke('env', name)   // string or undefined
//	esbridge.invoke('sleep', ms)   // promise resolved after ms
func registerBuiltins(r *esbridge.Runtime) error {
	if err := r.RegisterOperation("env", opEnv); err != nil {
		return err
	}
	return r.RegisterAsyncOperation("sleep", opSleep)
}

func opEnv(s *esbridge.Session, args []goja.Value) (goja.Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("env requires a name")
	}
	v, ok := os.LookupEnv(args[0].String())
	if !ok {
		return goja.Undefined(), nil
	}
	return s.Runtime().ToValue(v), nil
}

func opSleep(ctx context.Context, args []any) (any, error) {
	var ms int64
	if len(args) != 0 {
		switch v := args[0].(type) {
		case int64:
			ms = v
		case float64:
			ms = int64(v)
		default:
			return nil, fmt.Errorf("sleep requires milliseconds, got %T", args[0])
		}
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}
