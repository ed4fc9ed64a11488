package entry

import "testing"

func TestTriBool(t *testing.T) {
	cases := []struct {
		tri  Tri
		def  bool
		want bool
	}{
		{TriUnset, true, true},
		{TriUnset, false, false},
		{TriTrue, false, true},
		{TriFalse, true, false},
	}
	for _, c := range cases {
		if got := c.tri.Bool(c.def); got != c.want {
			t.Errorf("Tri(%d).Bool(%v) = %v, want %v", c.tri, c.def, got, c.want)
		}
	}
}

func TestLinkResolvesEffectiveFields(t *testing.T) {
	target := &Entry{
		Name:      "port",
		Mode:      ModeEmpty,
		Purpose:   PurposeCommon,
		Container: false,
		Filter:    FilterTrue,
		Value:     "1..65535",
		Entries:   []*Entry{{Name: "child"}},
	}
	target.IndexByPurpose()

	link := &Entry{Name: "server-port", Min: 1, Max: 1}
	link.NewLink("port", target)

	if !link.IsLink() {
		t.Fatal("expected link to report IsLink() == true")
	}
	if link.RefStr() != "port" {
		t.Errorf("RefStr() = %q, want %q", link.RefStr(), "port")
	}
	if link.EffectiveMode() != ModeEmpty {
		t.Errorf("EffectiveMode() = %v, want ModeEmpty", link.EffectiveMode())
	}
	if link.EffectiveFilter() != FilterTrue {
		t.Errorf("EffectiveFilter() = %v, want FilterTrue", link.EffectiveFilter())
	}
	if got := len(link.EffectiveEntries()); got != 1 {
		t.Errorf("EffectiveEntries() len = %d, want 1", got)
	}
	// Value is unset on the link itself, so it forwards to target.
	if link.EffectiveValue() != "1..65535" {
		t.Errorf("EffectiveValue() = %q, want %q", link.EffectiveValue(), "1..65535")
	}
	// Own fields are not forwarded.
	if link.Name != "server-port" {
		t.Errorf("Name = %q, want own name preserved", link.Name)
	}
}

func TestLinkOwnValueOverridesTarget(t *testing.T) {
	target := &Entry{Name: "port", Value: "1..65535"}
	link := &Entry{Name: "alias", Value: "1..1024"}
	link.NewLink("port", target)

	if got := link.EffectiveValue(); got != "1..1024" {
		t.Errorf("EffectiveValue() = %q, want own override %q", got, "1..1024")
	}
}

func TestFindChild(t *testing.T) {
	parent := &Entry{Entries: []*Entry{
		{Name: "a"}, {Name: "b"},
	}}
	if c := parent.FindChild("b"); c == nil || c.Name != "b" {
		t.Errorf("FindChild(%q) = %v, want entry named b", "b", c)
	}
	if c := parent.FindChild("missing"); c != nil {
		t.Errorf("FindChild(missing) = %v, want nil", c)
	}
}

func TestNestedByPurpose(t *testing.T) {
	ptype := &Entry{Name: "UINT", Purpose: PurposePtype}
	cmd := &Entry{Entries: []*Entry{ptype}}
	cmd.IndexByPurpose()

	got, ok := cmd.Nested(PurposePtype)
	if !ok || got != ptype {
		t.Errorf("Nested(PurposePtype) = (%v, %v), want (%v, true)", got, ok, ptype)
	}
	if _, ok := cmd.Nested(PurposeHelp); ok {
		t.Error("Nested(PurposeHelp) = true, want false (not registered)")
	}
}

func TestExecOnMatches(t *testing.T) {
	cases := []struct {
		e       ExecOn
		retcode int
		want    bool
	}{
		{ExecOnSuccess, 0, true},
		{ExecOnSuccess, 1, false},
		{ExecOnFail, 1, true},
		{ExecOnFail, 0, false},
		{ExecOnAlways, 7, true},
		{ExecOnNever, 0, false},
	}
	for _, c := range cases {
		if got := c.e.Matches(c.retcode); got != c.want {
			t.Errorf("%v.Matches(%d) = %v, want %v", c.e, c.retcode, got, c.want)
		}
	}
}
