package parser

import "errors"

// ErrFilterRequired is returned when a non-first pipeline stage's command
// does not declare filter∈{true,dual} (§4.5 rule R4).
var ErrFilterRequired = errors.New("command is not a filter")

// ErrInteractivePiped is returned when an interactive command appears in
// a multi-stage pipeline (§4.5 rule R5).
var ErrInteractivePiped = errors.New("interactive command cannot be piped")
