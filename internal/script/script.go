// Package script embeds the per-record transformation scripts declared in a
// profile. Scripts are ECMAScript, executed synchronously inside a worker:
// a serialize script sees the fetched entity and fills row slots, a
// deserialize script sees the typed row and builds entity scaffolding.
//
// Conversion between the engine's dynamic values and interpreter values is
// lossless for the JSON variant set; in particular strings with embedded
// quote characters pass through verbatim.
package script

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/shopsync/shopsync/internal/entity"
	"github.com/shopsync/shopsync/internal/lookup"
)

// ErrScript marks a script fault on a single record. The pipeline drops
// the record and counts it.
var ErrScript = errors.New("script error")

// Environment holds the compiled scripts of one profile. It is immutable
// and shared; per-worker interpreter state lives in Runner.
type Environment struct {
	serialize   *goja.Program
	deserialize *goja.Program
	lookups     *lookup.Tables
}

// Prepare compiles the profile scripts. Empty script sources are allowed
// and produce no-op transforms. Compilation failures are fatal, they
// surface before any data I/O.
func Prepare(serializeSrc, deserializeSrc string, lookups *lookup.Tables) (*Environment, error) {
	env := &Environment{lookups: lookups}

	var err error
	if strings.TrimSpace(serializeSrc) != "" {
		if env.serialize, err = goja.Compile("serialize_script", serializeSrc, false); err != nil {
			return nil, fmt.Errorf("compiling serialize_script: %w", err)
		}
	}
	if strings.TrimSpace(deserializeSrc) != "" {
		if env.deserialize, err = goja.Compile("deserialize_script", deserializeSrc, false); err != nil {
			return nil, fmt.Errorf("compiling deserialize_script: %w", err)
		}
	}
	return env, nil
}

// HasSerialize reports whether a serialize script is configured.
func (e *Environment) HasSerialize() bool { return e.serialize != nil }

// HasDeserialize reports whether a deserialize script is configured.
func (e *Environment) HasDeserialize() bool { return e.deserialize != nil }

// Runner is one interpreter instance. Runners are not safe for concurrent
// use; each worker owns one.
type Runner struct {
	env *Environment
	vm  *goja.Runtime
}

// NewRunner builds an interpreter with the host functions registered.
func (e *Environment) NewRunner() *Runner {
	vm := goja.New()

	mustSet := func(name string, fn any) {
		if err := vm.Set(name, fn); err != nil {
			panic(fmt.Sprintf("registering host function %s: %v", name, err))
		}
	}

	mustSet("get_default", func(name string) goja.Value {
		v, ok := e.lookups.Default(name)
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	mustSet("get_language_by_iso", func(iso string) goja.Value {
		v, ok := e.lookups.LanguageByISO(iso)
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	mustSet("get_currency_by_iso", func(iso string) goja.Value {
		v, ok := e.lookups.CurrencyByISO(iso)
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	mustSet("uuid", func() string {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	})
	mustSet("print", func(args ...any) {
		slog.Info("script print", "message", fmt.Sprint(args...))
	})
	mustSet("debug", func(args ...any) {
		slog.Debug("script debug", "message", fmt.Sprint(args...))
	})

	return &Runner{env: e, vm: vm}
}

// RunSerialize executes the serialize script against one fetched entity
// and returns the row slots the script populated. Without a script the
// result is empty. The script receives a deep copy, it can never mutate
// the record the projection step reads afterwards.
func (r *Runner) RunSerialize(record entity.Entity) (map[string]any, error) {
	if r.env.serialize == nil {
		return map[string]any{}, nil
	}

	if err := r.vm.Set("entity", r.vm.ToValue(entity.DeepCopy(record))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}
	row := r.vm.NewObject()
	if err := r.vm.Set("row", row); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}

	if _, err := r.vm.RunProgram(r.env.serialize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}

	return exportObject(r.vm.Get("row"))
}

// RunDeserialize executes the deserialize script against one typed row and
// returns the entity scaffolding the script built. Without a script the
// result is an empty entity. The script receives a deep copy of the row,
// writes to it never reach the injection step that runs afterwards.
func (r *Runner) RunDeserialize(row map[string]any) (entity.Entity, error) {
	if r.env.deserialize == nil {
		return entity.Entity{}, nil
	}

	if err := r.vm.Set("row", r.vm.ToValue(entity.DeepCopy(row))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}
	ent := r.vm.NewObject()
	if err := r.vm.Set("entity", ent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}

	if _, err := r.vm.RunProgram(r.env.deserialize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}

	return exportObject(r.vm.Get("entity"))
}

// exportObject converts a script object back into engine values.
func exportObject(v goja.Value) (map[string]any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return map[string]any{}, nil
	}
	exported := v.Export()
	obj, ok := exported.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: script replaced the output object with %T", ErrScript, exported)
	}
	return obj, nil
}
