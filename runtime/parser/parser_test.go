package parser

import (
	"testing"

	"github.com/klish-project/klish/core/entry"
	"github.com/klish-project/klish/runtime/scheme"
)

func mustLoad(t *testing.T, dto *entry.SchemeDTO) *scheme.Scheme {
	t.Helper()
	s, errs := scheme.Load(dto)
	if len(errs) > 0 {
		t.Fatalf("scheme.Load() errs = %v", errs)
	}
	return s
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

// TestSimpleCommand is spec.md §8 scenario 1: "help" with no params.
func TestSimpleCommand(t *testing.T) {
	sch := mustLoad(t, &entry.SchemeDTO{
		Views: []entry.ViewDTO{{
			Name: "root",
			Commands: []entry.CommandDTO{
				{Name: "help"},
			},
		}},
	})
	root, _ := sch.View("root")

	p := Parse([]*entry.Entry{root}, []string{"help"}, PurposeExec, sch.Ptypes)
	if p.Status != StatusOK {
		t.Fatalf("Status = %v, want OK (err=%v)", p.Status, p.Err)
	}
	if p.Command == nil || p.Command.Name != "help" {
		t.Fatalf("Command = %v, want help", p.Command)
	}
}

// TestParameterValidation is spec.md §8 scenario 2.
func TestParameterValidation(t *testing.T) {
	sch := mustLoad(t, &entry.SchemeDTO{
		Ptypes: []entry.PtypeDTO{{Name: "PORT", Compile: "1..65535"}},
		Views: []entry.ViewDTO{{
			Name: "root",
			Commands: []entry.CommandDTO{{
				Name: "set",
				Nested: []entry.CommandDTO{{
					Name: "port",
					Params: []entry.ParamDTO{{Name: "value", Ptype: "PORT"}},
				}},
			}},
		}},
	})
	root, _ := sch.View("root")

	cases := []struct {
		line string
		want Status
	}{
		{"set port 80", StatusOK},
		{"set port 70000", StatusIllegal},
		{"set port abc", StatusIllegal},
	}
	for _, c := range cases {
		tokens, err := Tokenize(c.line)
		if err != nil {
			t.Fatalf("Tokenize(%q) error = %v", c.line, err)
		}
		p := Parse([]*entry.Entry{root}, tokens, PurposeExec, sch.Ptypes)
		if p.Status != c.want {
			t.Errorf("Parse(%q).Status = %v, want %v (err=%v)", c.line, p.Status, c.want, p.Err)
		}
	}
	p := Parse([]*entry.Entry{root}, []string{"set", "port", "80"}, PurposeExec, sch.Ptypes)
	if v, ok := p.Value("value"); !ok || v != "80" {
		t.Fatalf("Value(value) = %q,%v, want 80,true", v, ok)
	}
}

// TestCompletionAmbiguous is spec.md §8 scenario 3.
func TestCompletionAmbiguous(t *testing.T) {
	sch := mustLoad(t, &entry.SchemeDTO{
		Views: []entry.ViewDTO{{
			Name: "root",
			Commands: []entry.CommandDTO{
				{Name: "ping"},
				{Name: "pong"},
			},
		}},
	})
	root, _ := sch.View("root")

	p := Parse([]*entry.Entry{root}, []string{"p"}, PurposeCompletion, sch.Ptypes)
	if p.Status != StatusIncompleted {
		t.Fatalf("Status = %v, want INCOMPLETED", p.Status)
	}
	if len(p.Candidates) != 2 {
		t.Fatalf("Candidates = %v, want 2 entries", p.Candidates)
	}
	names := map[string]bool{}
	for _, c := range p.Candidates {
		names[CandidateName(c)] = true
	}
	if !names["ping"] || !names["pong"] {
		t.Fatalf("Candidates = %v, want ping and pong", names)
	}
}

// TestPipeFilter is spec.md §8 scenario 4.
func TestPipeFilter(t *testing.T) {
	sch := mustLoad(t, &entry.SchemeDTO{
		Views: []entry.ViewDTO{{
			Name: "root",
			Commands: []entry.CommandDTO{
				{Name: "show", Nested: []entry.CommandDTO{{Name: "log"}}},
				{Name: "grep", Filter: "true", Params: []entry.ParamDTO{{Name: "pattern", Ptype: "STRING"}}},
			},
		}},
	})
	root, _ := sch.View("root")

	pl := ParseLine([]*entry.Entry{root}, "show log | grep warn", PurposeExec, sch.Ptypes)
	if pl.Status != StatusOK {
		t.Fatalf("Status = %v, want OK (err=%v)", pl.Status, pl.Err)
	}
	if len(pl.Stages) != 2 {
		t.Fatalf("Stages = %d, want 2", len(pl.Stages))
	}
	if pl.Stages[0].Pargv.Command.Name != "log" {
		t.Fatalf("Stages[0].Command = %v, want log (the deepest matched subcommand)", pl.Stages[0].Pargv.Command)
	}
	if pl.Stages[1].Pargv.Command.Name != "grep" {
		t.Fatalf("Stages[1].Command = %v, want grep", pl.Stages[1].Pargv.Command)
	}
}

// TestInteractiveRejectedPipe is spec.md §8 scenario 5.
func TestInteractiveRejectedPipe(t *testing.T) {
	sch := mustLoad(t, &entry.SchemeDTO{
		Views: []entry.ViewDTO{{
			Name: "root",
			Commands: []entry.CommandDTO{
				{Name: "vi", Interactive: true},
				{Name: "grep", Filter: "true", Params: []entry.ParamDTO{{Name: "pattern", Ptype: "STRING"}}},
			},
		}},
	})
	root, _ := sch.View("root")

	pl := ParseLine([]*entry.Entry{root}, "vi | grep foo", PurposeExec, sch.Ptypes)
	if pl.Status != StatusIllegal {
		t.Fatalf("Status = %v, want ILLEGAL", pl.Status)
	}
	if pl.Err == nil {
		t.Fatal("Err = nil, want an error naming the interactive command")
	}
}

// TestViewPushRestore exercises spec.md §8 scenario 6's scheme shape at
// the parser level: matching "reload" inside the nested "system" view
// correctly identifies the command and its containing level.
func TestViewPushRestore(t *testing.T) {
	sch := mustLoad(t, &entry.SchemeDTO{
		Views: []entry.ViewDTO{
			{Name: "root", Commands: []entry.CommandDTO{{Name: "enter"}}},
			{Name: "system", Commands: []entry.CommandDTO{{Name: "reload", Restore: boolPtr(true)}}},
		},
	})
	root, _ := sch.View("root")
	system, _ := sch.View("system")

	// Deepest level (system) first, per §4.5's top-to-bottom walk.
	p := Parse([]*entry.Entry{system, root}, []string{"reload"}, PurposeExec, sch.Ptypes)
	if p.Status != StatusOK {
		t.Fatalf("Status = %v, want OK (err=%v)", p.Status, p.Err)
	}
	if p.Command == nil || p.Command.Name != "reload" {
		t.Fatalf("Command = %v, want reload", p.Command)
	}
	if !p.Command.Restore {
		t.Fatal("Command.Restore = false, want true")
	}
	if p.LevelDepth != 2 {
		t.Fatalf("LevelDepth = %d, want 2 (deepest level)", p.LevelDepth)
	}
}

var _ = intPtr
