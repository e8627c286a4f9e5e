package engine

import (
	"strconv"
	"strings"
	"time"
)

// DefaultWaitUnit is the duration of one wait() unit when no parser
// override is configured.
const DefaultWaitUnit = time.Second

// Parser turns raw command tokens into typed command steps. Tokens
// have two shapes:
//
//	Target, verb(args)
//	wait(n)
//
// Arguments inside {...} or (...) are a comma-separated list of
// literal values. Unknown verbs are preserved opaquely; verb
// vocabulary is instrument-defined, not engine-defined. A token with
// no target parses with an empty Instrument field and is bound by the
// definition loader.
type Parser struct {
	// WaitUnit is the duration of one wait() unit. Zero means
	// DefaultWaitUnit.
	WaitUnit time.Duration
}

// ParseCommand parses a command token using the default wait unit.
func ParseCommand(token string) (CommandStep, error) {
	p := Parser{}
	return p.Parse(token)
}

// Parse parses a single command token into a CommandStep.
func (p Parser) Parse(token string) (CommandStep, error) {
	raw := strings.TrimSpace(token)
	if raw == "" {
		return CommandStep{}, NewDefinitionError("empty command token", nil).
			WithCode(ErrCodeParse)
	}

	if isWaitToken(raw) {
		return p.parseWait(raw)
	}

	step := CommandStep{Raw: raw}
	body := raw
	if i := strings.Index(raw, ","); i >= 0 {
		step.Instrument = strings.TrimSpace(raw[:i])
		body = strings.TrimSpace(raw[i+1:])
		if step.Instrument == "" {
			return CommandStep{}, NewDefinitionError(
				"command has empty target before comma", nil).
				WithCode(ErrCodeParse)
		}
	}
	if body == "" {
		return CommandStep{}, NewDefinitionError(
			"command has no verb", nil).WithCode(ErrCodeParse)
	}

	verb, argBody, err := splitVerb(body)
	if err != nil {
		return CommandStep{}, err
	}
	step.Verb = verb
	step.Args = splitArgs(argBody)
	return step, nil
}

func isWaitToken(raw string) bool {
	rest, ok := strings.CutPrefix(raw, "wait")
	if !ok {
		return false
	}
	rest = strings.TrimSpace(rest)
	return rest == "" || strings.HasPrefix(rest, "(") || strings.HasPrefix(rest, "{")
}

func (p Parser) parseWait(raw string) (CommandStep, error) {
	unit := p.WaitUnit
	if unit <= 0 {
		unit = DefaultWaitUnit
	}
	_, argBody, err := splitVerb(raw)
	if err != nil {
		return CommandStep{}, err
	}
	args := splitArgs(argBody)
	// Bare "wait" or "wait()" means one unit.
	n := 1.0
	if len(args) > 1 {
		return CommandStep{}, NewDefinitionError(
			"wait takes at most one argument", nil).WithCode(ErrCodeParse)
	}
	if len(args) == 1 {
		n, err = strconv.ParseFloat(args[0], 64)
		if err != nil || n < 0 {
			return CommandStep{}, NewDefinitionError(
				"wait duration must be a non-negative number", err).
				WithCode(ErrCodeParse)
		}
	}
	d := time.Duration(n * float64(unit))
	if d <= 0 {
		d = time.Nanosecond
	}
	return CommandStep{Raw: raw, WaitDuration: d}, nil
}

// splitVerb separates a verb from its bracketed argument body. The
// verb may stand alone with no brackets at all.
func splitVerb(body string) (verb, argBody string, err error) {
	open := strings.IndexAny(body, "({")
	if open < 0 {
		return strings.TrimSpace(body), "", nil
	}
	verb = strings.TrimSpace(body[:open])
	if verb == "" {
		return "", "", NewDefinitionError(
			"command has no verb before arguments", nil).WithCode(ErrCodeParse)
	}
	closer := ")"
	if body[open] == '{' {
		closer = "}"
	}
	rest := body[open+1:]
	end := strings.LastIndex(rest, closer)
	if end < 0 {
		return "", "", NewDefinitionError(
			"unterminated argument list in command", nil).WithCode(ErrCodeParse)
	}
	if trailing := strings.TrimSpace(rest[end+1:]); trailing != "" {
		return "", "", NewDefinitionError(
			"unexpected text after argument list", nil).WithCode(ErrCodeParse)
	}
	return verb, rest[:end], nil
}

// splitArgs splits a comma-separated literal list, trimming whitespace
// and surrounding quotes. An empty body yields no arguments.
func splitArgs(argBody string) []string {
	argBody = strings.TrimSpace(argBody)
	if argBody == "" {
		return nil
	}
	parts := strings.Split(argBody, ",")
	args := make([]string, 0, len(parts))
	for _, part := range parts {
		arg := strings.TrimSpace(part)
		arg = strings.Trim(arg, `"'`)
		args = append(args, arg)
	}
	return args
}
