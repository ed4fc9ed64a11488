package ptype

import "testing"

func TestDefaultRegistryHasBuiltins(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	for _, name := range []string{"COMMAND", "COMMAND_CASE", "INT", "UINT", "STRING"} {
		if _, ok := r.Lookup(name); !ok {
			t.Errorf("default registry missing builtin PTYPE %q", name)
		}
	}
}

func TestUintRangeValidation(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if err := r.RegisterRange("port", KindUint, 1, 65535); err != nil {
		t.Fatalf("RegisterRange() error = %v", err)
	}
	v, ok := r.Lookup("port")
	if !ok {
		t.Fatal("expected port PTYPE to be registered")
	}

	if err := v.Validate("80"); err != nil {
		t.Errorf("Validate(80) error = %v, want nil", err)
	}
	if err := v.Validate("70000"); err == nil {
		t.Error("Validate(70000) = nil, want range error")
	}
	if err := v.Validate("abc"); err == nil {
		t.Error("Validate(abc) = nil, want type error")
	}
}

func TestLiteralCommandValidation(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if err := r.RegisterLiteral("cmd_show", "show", true); err != nil {
		t.Fatalf("RegisterLiteral() error = %v", err)
	}
	v, _ := r.Lookup("cmd_show")
	if err := v.Validate("show"); err != nil {
		t.Errorf("Validate(show) error = %v, want nil", err)
	}
	if err := v.Validate("Show"); err == nil {
		t.Error("Validate(Show) = nil, want mismatch (case-sensitive COMMAND)")
	}
}

func TestLiteralCommandCaseInsensitive(t *testing.T) {
	r, _ := NewRegistry()
	_ = r.RegisterLiteral("cmd_show_ci", "show", false)
	v, _ := r.Lookup("cmd_show_ci")
	if err := v.Validate("SHOW"); err != nil {
		t.Errorf("Validate(SHOW) error = %v, want nil for case-insensitive literal", err)
	}
}

func TestPluginVersionExactCheck(t *testing.T) {
	host := PluginVersion{Major: 2, Minor: 1}
	if err := CheckExact(host, PluginVersion{Major: 2, Minor: 0}); err != nil {
		t.Errorf("CheckExact minor mismatch = %v, want nil (minor may differ)", err)
	}
	if err := CheckExact(host, PluginVersion{Major: 1, Minor: 9}); err == nil {
		t.Error("CheckExact major mismatch = nil, want error")
	}
}

func TestPluginVersionConstraint(t *testing.T) {
	v := PluginVersion{Major: 2, Minor: 3}
	if err := CheckConstraint(">=v2.0.0", v); err != nil {
		t.Errorf("CheckConstraint(>=v2.0.0) = %v, want nil", err)
	}
	if err := CheckConstraint(">=v3.0.0", v); err == nil {
		t.Error("CheckConstraint(>=v3.0.0) = nil, want unsatisfied error")
	}
	if err := CheckConstraint("", v); err != nil {
		t.Errorf("CheckConstraint(\"\") = %v, want nil (unconstrained)", err)
	}
}
