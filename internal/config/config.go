// Package config parses the device's ASCII key=value configuration line
// exchanged during the handshake and applies it against a static registry
// of typed setters.
package config

import (
	"strconv"
	"strings"
	"sync"
)

// Registry maps configuration keys to typed setter functions. Unknown keys
// are ignored; a setter whose value fails to parse is skipped, not fatal.
type Registry struct {
	mu      sync.Mutex
	setters map[string]func(string) error
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{setters: make(map[string]func(string) error)}
}

// RegisterString registers a setter that receives the raw value verbatim.
func (r *Registry) RegisterString(key string, set func(string)) {
	r.register(key, func(v string) error { set(v); return nil })
}

// RegisterInt32 registers a setter parsed as a signed 32-bit integer.
func (r *Registry) RegisterInt32(key string, set func(int32)) {
	r.register(key, func(v string) error {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return err
		}
		set(int32(n))
		return nil
	})
}

// RegisterUint32 registers a setter parsed as an unsigned 32-bit integer.
func (r *Registry) RegisterUint32(key string, set func(uint32)) {
	r.register(key, func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		set(uint32(n))
		return nil
	})
}

// RegisterFloat64 registers a setter parsed as a double.
func (r *Registry) RegisterFloat64(key string, set func(float64)) {
	r.register(key, func(v string) error {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		set(n)
		return nil
	})
}

// RegisterBool registers a setter parsed with strconv.ParseBool.
func (r *Registry) RegisterBool(key string, set func(bool)) {
	r.register(key, func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		set(b)
		return nil
	})
}

func (r *Registry) register(key string, set func(string) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setters[key] = set
}

// Apply parses a line of the form "<KEY=VALUE:KEY=VALUE:...\n" (the
// leading '<' and trailing newline are optional and stripped if present)
// and invokes the registered setter for each known key. It returns the
// keys it successfully applied and the setter errors it swallowed, one per
// known key whose value failed to parse. Pairs without '=' and unknown keys
// are skipped without an error.
func (r *Registry) Apply(line string) (applied []string, errs []error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimPrefix(line, "<")

	if line == "" {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pair := range strings.Split(line, ":") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		set, known := r.setters[k]
		if !known {
			continue
		}
		if err := set(v); err != nil {
			errs = append(errs, err)
			continue
		}
		applied = append(applied, k)
	}
	return applied, errs
}
