// Package envconfig layers engine configuration the way the teacher's
// env.go does: a small Environment abstraction sourced from the OS
// environment, a plain map, or a .env file, with prefix filtering and
// dictionary remapping, plus an EngineConfig built on top of it.
package envconfig

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment exposes configuration as a flat key/value map, regardless
// of its source.
type Environment interface {
	Values() map[string]string
}

type environment struct {
	prefix string
	values map[string]string
	dict   map[string]string
}

// NewEnvFromMap wraps an existing map[string]string as an Environment.
func NewEnvFromMap(values map[string]string) Environment {
	return &environment{values: values}
}

// NewEnvFromOS captures the process environment.
func NewEnvFromOS() Environment {
	values := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			values[kv[:i]] = kv[i+1:]
		}
	}
	return &environment{values: values}
}

// NewEnvFromFile loads a .env file through godotenv, the same mechanism
// the teacher uses for NewEnvFromFile.
func NewEnvFromFile(path string) (Environment, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, err
	}
	return &environment{values: values}, nil
}

// SetPrefix restricts Values() to keys carrying this prefix (prefix is
// stripped from the returned keys).
func (e *environment) SetPrefix(prefix string) *environment {
	e.prefix = prefix
	return e
}

// SetDictionary remaps raw key names to engine-internal config names
// before they're handed to a setter, mirroring EnvMap in the teacher's
// config.go.
func (e *environment) SetDictionary(dict map[string]string) *environment {
	e.dict = dict
	return e
}

func (e *environment) Values() map[string]string {
	out := map[string]string{}
	for k, v := range e.values {
		key := k
		if e.prefix != "" {
			if !strings.HasPrefix(k, e.prefix) {
				continue
			}
			key = strings.TrimPrefix(k, e.prefix)
		}
		if e.dict != nil {
			if mapped, ok := e.dict[key]; ok {
				key = mapped
			}
		}
		out[key] = v
	}
	return out
}
