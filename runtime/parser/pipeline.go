package parser

import (
	"fmt"

	"github.com/klish-project/klish/core/entry"
	"github.com/klish-project/klish/core/ptype"
)

// Stage is one pipeline stage's argv and the pargv it parsed to.
type Stage struct {
	Argv  []string
	Pargv *Pargv
}

// Pipeline is a fully parsed, pipe-split command line (§4.5 "Pipe
// splitting").
type Pipeline struct {
	Stages []Stage
	Status Status
	Err    error
}

// ParseLine tokenizes line, splits it on "|" into pipeline stages, parses
// each stage against levels in turn, and enforces the pipe rules R1-R5:
// only the first stage may be a non-filter command, later stages must
// accept filter∈{true,dual}, and an interactive command may never be
// piped.
func ParseLine(levels []*entry.Entry, line string, purpose Purpose, ptypes *ptype.Registry) *Pipeline {
	tokens, err := Tokenize(line)
	if err != nil {
		return &Pipeline{Status: StatusIllegal, Err: err}
	}

	stageArgvs, err := Split(tokens, purpose != PurposeExec)
	if err != nil {
		return &Pipeline{Status: StatusIllegal, Err: err}
	}

	pl := &Pipeline{}
	for i, argv := range stageArgvs {
		p := Parse(levels, argv, purpose, ptypes)
		pl.Stages = append(pl.Stages, Stage{Argv: argv, Pargv: p})

		if p.Status != StatusOK && p.Status != StatusIncompleted {
			pl.Status = p.Status
			pl.Err = fmt.Errorf("parser: stage %d: %s", i, p.Status)
			return pl
		}

		if i > 0 && p.Command != nil {
			filter := p.Command.EffectiveFilter()
			if filter != entry.FilterTrue && filter != entry.FilterDual {
				pl.Status = StatusIllegal
				pl.Err = fmt.Errorf("parser: %w: %q", ErrFilterRequired, p.Command.Name)
				return pl
			}
		}

		if p.Command != nil && p.Command.EffectiveInteractive() && len(stageArgvs) > 1 {
			pl.Status = StatusIllegal
			pl.Err = fmt.Errorf("parser: %w: %q cannot be piped", ErrInteractivePiped, p.Command.Name)
			return pl
		}
	}

	pl.Status = pl.Stages[len(pl.Stages)-1].Pargv.Status
	return pl
}
