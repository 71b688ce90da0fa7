// Package configresolver implements C13: typed configuration keys resolved
// with precedence env > db > default, validated against a per-type
// validator catalog, with sensitive values redacted in any diagnostic.
//
// This is independent of internal/config's bootstrap struct, which only
// covers the handful of settings needed before a database connection
// exists (host/port/DSNs/log level). Resolver covers everything else —
// provider adapter endpoints, directory sync tuning, replication table
// subscriptions — that can be overridden per-tenant from the database once
// the pool is up, per spec §4.13.
package configresolver

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Type enumerates the kinds of values a Key may hold.
type Type int

const (
	TypeString Type = iota
	TypeInt
	TypeBool
	TypeMap
	TypeIP
	TypeCIDR
	TypeArray
	TypeOneOf
	TypeEnum
)

// Validator checks a parsed value and returns a human-readable reason if it
// is invalid.
type Validator func(value any) error

// Key describes one resolvable configuration setting.
type Key struct {
	Name string
	Type Type

	// Default is the static fallback value used when env and db both miss.
	// Ignored if DefaultFn is set.
	Default any

	// DefaultFn computes the fallback lazily (a "thunk" default), e.g. for
	// values derived from other configuration or the environment at
	// resolve time.
	DefaultFn func() any

	Validator Validator

	// Dumper renders a value for display in a diagnostic; defaults to
	// fmt.Sprintf("%v", value) when nil.
	Dumper func(any) string

	// Sensitive values are redacted in any diagnostic message.
	Sensitive bool

	// ArraySep is the separator for TypeArray values; defaults to ",".
	ArraySep string
	// ArrayElem is the element type for TypeArray values.
	ArrayElem Type

	// EnumValues restricts a TypeEnum/TypeOneOf key to this literal set.
	EnumValues []string

	// Doc is a short description surfaced in diagnostics ("reference to the
	// documentation string", per spec §4.13).
	Doc string
}

// Diagnostic is the formatted, multi-line error raised when a key's value
// cannot be resolved: which source produced it, what was wrong, and a
// pointer to the key's documentation.
type Diagnostic struct {
	Key    string
	Source string
	Value  string
	Reason string
	Doc    string
}

func (d *Diagnostic) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid configuration for %s\n", d.Key)
	fmt.Fprintf(&b, "  source: %s\n", d.Source)
	fmt.Fprintf(&b, "  value:  %s\n", d.Value)
	fmt.Fprintf(&b, "  reason: %s\n", d.Reason)
	if d.Doc != "" {
		fmt.Fprintf(&b, "  see:    %s\n", d.Doc)
	}
	return b.String()
}

// DBSource looks up a config key's raw string value in the database
// fallback layer. It returns ok=false, nil when the key has no db row.
type DBSource func(ctx context.Context, key string) (value string, ok bool, err error)

// Resolver resolves registered Keys with precedence env > db > default.
type Resolver struct {
	keys   map[string]Key
	db     DBSource
	getenv func(string) (string, bool)
}

// New creates a Resolver. db may be nil, in which case resolution falls
// straight through from env to default.
func New(db DBSource) *Resolver {
	return &Resolver{
		keys: make(map[string]Key),
		db:   db,
		getenv: func(name string) (string, bool) {
			return os.LookupEnv(name)
		},
	}
}

// Register adds a Key to the resolver's catalog.
func (r *Resolver) Register(k Key) {
	if k.ArraySep == "" {
		k.ArraySep = ","
	}
	r.keys[k.Name] = k
}

// envName uppercases a key name for its 1:1 environment variable, per
// spec §6 ("every configuration key has a 1:1 uppercased env name").
func envName(key string) string {
	return strings.ToUpper(key)
}

// Resolve returns the key's effective value, honoring env > db > default
// precedence. An env or db value is parsed and run through the key's
// validator (if any); a default is returned as given, without validation.
func (r *Resolver) Resolve(ctx context.Context, name string) (any, error) {
	k, ok := r.keys[name]
	if !ok {
		return nil, fmt.Errorf("configresolver: unknown key %q", name)
	}

	if raw, ok := r.getenv(envName(name)); ok {
		return r.parseAndValidate(k, "env", raw)
	}

	if r.db != nil {
		raw, ok, err := r.db(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("configresolver: db lookup for %s: %w", name, err)
		}
		if ok {
			return r.parseAndValidate(k, "db", raw)
		}
	}

	if k.DefaultFn != nil {
		return k.DefaultFn(), nil
	}
	return k.Default, nil
}

func (r *Resolver) parseAndValidate(k Key, source, raw string) (any, error) {
	value, err := parseValue(k, raw)
	if err == nil && k.Validator != nil {
		err = k.Validator(value)
	}
	if err != nil {
		reason := err.Error()
		if k.Sensitive && raw != "" {
			reason = strings.ReplaceAll(reason, raw, "[REDACTED]")
		}
		return nil, &Diagnostic{Key: k.Name, Source: source, Value: redact(k, raw), Reason: reason, Doc: k.Doc}
	}
	return value, nil
}

func parseValue(k Key, raw string) (any, error) {
	switch k.Type {
	case TypeString, TypeEnum, TypeOneOf:
		if k.Type != TypeString && len(k.EnumValues) > 0 && !contains(k.EnumValues, raw) {
			return nil, fmt.Errorf("must be one of %s", strings.Join(k.EnumValues, ", "))
		}
		return raw, nil
	case TypeInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("not a valid integer: %v", err)
		}
		return n, nil
	case TypeBool:
		return parseBool(raw)
	case TypeIP, TypeCIDR:
		return raw, nil // type-specific validators (ValidateCIDR, etc.) check shape
	case TypeMap:
		return parseMap(raw)
	case TypeArray:
		sep := k.ArraySep
		if sep == "" {
			sep = ","
		}
		parts := strings.Split(raw, sep)
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}

// parseBool accepts the literal forms spec §6 requires: "1"/"0"/"true"/"false".
func parseBool(raw string) (bool, error) {
	switch raw {
	case "1", "true", "TRUE", "True":
		return true, nil
	case "0", "false", "FALSE", "False":
		return false, nil
	default:
		return false, fmt.Errorf(`must be "1", "0", "true", or "false"`)
	}
}

// parseMap parses a flat "k1=v1,k2=v2" encoding into a map.
func parseMap(raw string) (map[string]string, error) {
	out := make(map[string]string)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed map entry %q, want key=value", pair)
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

func contains(values []string, v string) bool {
	for _, c := range values {
		if c == v {
			return true
		}
	}
	return false
}

// redact returns raw, or a fixed placeholder if the key is sensitive, per
// spec §4.13 ("Sensitive values are redacted in any diagnostic").
func redact(k Key, raw string) string {
	if k.Sensitive {
		return "[REDACTED]"
	}
	if k.Dumper != nil {
		return k.Dumper(raw)
	}
	return raw
}
