package configresolver

import (
	"context"
	"strings"
	"testing"
)

func newTestResolver(t *testing.T, env map[string]string, db DBSource) *Resolver {
	t.Helper()
	r := New(db)
	r.getenv = func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
	return r
}

func TestResolve_PrecedenceEnvOverDBOverDefault(t *testing.T) {
	r := newTestResolver(t, map[string]string{"TICK_INTERVAL": "30"},
		func(ctx context.Context, key string) (string, bool, error) { return "60", true, nil })
	r.Register(Key{Name: "tick_interval", Type: TypeInt, Default: 10})

	v, err := r.Resolve(context.Background(), "tick_interval")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if v.(int) != 30 {
		t.Errorf("env should win over db and default, got %v", v)
	}
}

func TestResolve_DBOverDefault(t *testing.T) {
	r := newTestResolver(t, map[string]string{},
		func(ctx context.Context, key string) (string, bool, error) { return "60", true, nil })
	r.Register(Key{Name: "tick_interval", Type: TypeInt, Default: 10})

	v, err := r.Resolve(context.Background(), "tick_interval")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if v.(int) != 60 {
		t.Errorf("db should win over default when env is unset, got %v", v)
	}
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	r := newTestResolver(t, map[string]string{}, nil)
	r.Register(Key{Name: "tick_interval", Type: TypeInt, Default: 10})

	v, err := r.Resolve(context.Background(), "tick_interval")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if v.(int) != 10 {
		t.Errorf("expected default 10, got %v", v)
	}
}

func TestResolve_DefaultFnIsLazy(t *testing.T) {
	called := false
	r := newTestResolver(t, map[string]string{}, nil)
	r.Register(Key{Name: "computed", Type: TypeString, DefaultFn: func() any {
		called = true
		return "computed-value"
	}})

	v, err := r.Resolve(context.Background(), "computed")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if !called {
		t.Error("DefaultFn should be invoked when env and db both miss")
	}
	if v.(string) != "computed-value" {
		t.Errorf("v = %v, want computed-value", v)
	}
}

func TestResolve_InvalidValueProducesDiagnostic(t *testing.T) {
	r := newTestResolver(t, map[string]string{"PORT": "not-a-number"}, nil)
	r.Register(Key{Name: "port", Type: TypeInt, Default: 8080})

	_, err := r.Resolve(context.Background(), "port")
	if err == nil {
		t.Fatal("expected an error for a non-integer PORT value")
	}
	var diag *Diagnostic
	if d, ok := err.(*Diagnostic); ok {
		diag = d
	} else {
		t.Fatalf("error should be a *Diagnostic, got %T", err)
	}
	if diag.Source != "env" {
		t.Errorf("diag.Source = %q, want env", diag.Source)
	}
	msg := diag.Error()
	if !strings.Contains(msg, "port") || !strings.Contains(msg, "env") {
		t.Errorf("diagnostic message should name the key and source: %s", msg)
	}
}

func TestResolve_SensitiveValueRedacted(t *testing.T) {
	r := newTestResolver(t, map[string]string{"API_KEY": "true"}, nil)
	r.Register(Key{Name: "api_key", Type: TypeBool, Sensitive: true})

	// Force a validation failure so we can inspect the diagnostic's value.
	r.keys["api_key"] = Key{Name: "api_key", Type: TypeInt, Sensitive: true}

	_, err := r.Resolve(context.Background(), "api_key")
	if err == nil {
		t.Fatal("expected an error parsing a bool literal as an int")
	}
	if !strings.Contains(err.Error(), "[REDACTED]") {
		t.Errorf("sensitive key's raw value must be redacted in diagnostics, got: %v", err)
	}
	if strings.Contains(err.Error(), "true") && !strings.Contains(err.Error(), "[REDACTED]") {
		t.Error("raw sensitive value must not leak into the diagnostic")
	}
}

func TestResolve_BoolLiterals(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want bool
	}{
		{"1", true}, {"0", false}, {"true", true}, {"false", false},
	} {
		r := newTestResolver(t, map[string]string{"FLAG": tc.raw}, nil)
		r.Register(Key{Name: "flag", Type: TypeBool})

		v, err := r.Resolve(context.Background(), "flag")
		if err != nil {
			t.Fatalf("Resolve(%q) error: %v", tc.raw, err)
		}
		if v.(bool) != tc.want {
			t.Errorf("Resolve(%q) = %v, want %v", tc.raw, v, tc.want)
		}
	}
}

func TestResolve_ArraySplitsAndTrims(t *testing.T) {
	r := newTestResolver(t, map[string]string{"TABLES": "accounts, resources ,tokens"}, nil)
	r.Register(Key{Name: "tables", Type: TypeArray})

	v, err := r.Resolve(context.Background(), "tables")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	got := v.([]string)
	want := []string{"accounts", "resources", "tokens"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolve_UnknownKey(t *testing.T) {
	r := newTestResolver(t, map[string]string{}, nil)
	if _, err := r.Resolve(context.Background(), "nope"); err == nil {
		t.Error("expected an error for an unregistered key")
	}
}
