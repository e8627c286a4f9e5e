package missiondef

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openmission/openmission/pkg/engine"
	"github.com/openmission/openmission/pkg/telemetry"
)

// Accepted start time layouts, tried in order.
var startTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Loader turns raw mission definition sources into fully resolved
// engine definitions.
type Loader struct {
	parser   engine.Parser
	validate *validator.Validate
	logger   *telemetry.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithWaitUnit sets the duration of one wait() unit in command
// tokens.
func WithWaitUnit(unit time.Duration) Option {
	return func(l *Loader) {
		l.parser.WaitUnit = unit
	}
}

// WithLogger attaches a logger to the loader.
func WithLogger(logger *telemetry.Logger) Option {
	return func(l *Loader) {
		l.logger = logger.NewComponentLogger("missiondef")
	}
}

// NewLoader creates a mission definition loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads a definition file and resolves it. The format is chosen
// by extension: .cue loads as CUE, everything else as YAML.
func (l *Loader) Load(path string) (*engine.MissionDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewDefinitionError(
			fmt.Sprintf("cannot read mission definition %s", path), err).
			WithCode(engine.ErrCodeValidation)
	}

	if filepath.Ext(path) == ".cue" {
		return l.LoadCUE(data)
	}
	return l.LoadYAML(data)
}

// LoadYAML parses a YAML definition document and resolves it.
func (l *Loader) LoadYAML(data []byte) (*engine.MissionDefinition, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engine.NewDefinitionError("invalid YAML in mission definition", err).
			WithCode(engine.ErrCodeParse)
	}
	return l.Resolve(&doc)
}

// Resolve turns a raw document into a clean engine definition:
// disabled entries are dropped, command tokens are parsed, implicit
// targets are bound, and the result is validated.
func (l *Loader) Resolve(doc *Document) (*engine.MissionDefinition, error) {
	if err := l.validate.Struct(doc); err != nil {
		return nil, engine.NewDefinitionError("mission definition failed validation", err).
			WithCode(engine.ErrCodeValidation)
	}

	def := &engine.MissionDefinition{
		Name:       doc.Name,
		Version:    doc.Version,
		PlatformID: doc.Platform.PlatformID,
	}

	for i, entry := range doc.Mission {
		spec := entry.MissionThread
		thread, err := l.resolveThread(i, spec)
		if err != nil {
			return nil, err
		}
		def.Threads = append(def.Threads, *thread)
	}

	if err := ValidateDefinition(def); err != nil {
		return nil, err
	}

	if l.logger != nil {
		l.logger.WithMissionID(def.Name).
			Infof("resolved mission definition with %d threads", len(def.Threads))
	}
	return def, nil
}

func (l *Loader) resolveThread(index int, spec ThreadSpec) (*engine.ThreadDefinition, error) {
	id := strings.TrimSpace(spec.ThreadID)
	if id == "" {
		id = fmt.Sprintf("%d", index)
	}

	instruments := filterDisabled(spec.InstrumentID)

	schedule, err := resolveSchedule(id, spec.Schedule)
	if err != nil {
		return nil, err
	}

	thread := &engine.ThreadDefinition{
		ID:          id,
		Instruments: instruments,
		ErrorHandling: engine.ErrorHandling{
			Default:    engine.Policy(strings.TrimSpace(spec.ErrorHandling.Default)),
			MaxRetries: spec.ErrorHandling.MaxRetries,
		},
		Schedule: *schedule,
	}

	if thread.Pre, err = l.resolveSequence(thread, spec.PreMissionSequence); err != nil {
		return nil, err
	}
	if thread.Main, err = l.resolveSequence(thread, spec.MissionSequence); err != nil {
		return nil, err
	}
	if thread.Post, err = l.resolveSequence(thread, spec.PostMissionSequence); err != nil {
		return nil, err
	}
	return thread, nil
}

// resolveSequence parses each enabled command token and binds
// implicit targets. A token with no target is bound to the thread's
// sole instrument; with several bound instruments the target is
// ambiguous and rejected.
func (l *Loader) resolveSequence(thread *engine.ThreadDefinition, steps []StepSpec) (engine.Sequence, error) {
	var seq engine.Sequence
	for _, raw := range steps {
		command := strings.TrimSpace(raw.Command)
		if command == "" || strings.HasPrefix(command, "#") {
			continue
		}

		step, err := l.parser.Parse(command)
		if err != nil {
			return nil, err
		}

		if !step.IsWait() && step.Instrument == "" {
			if len(thread.Instruments) != 1 {
				return nil, engine.NewDefinitionError(
					fmt.Sprintf("command %q has no target and thread %s binds %d instruments",
						command, thread.ID, len(thread.Instruments)), nil).
					WithCode(engine.ErrCodeUnboundInstrument).WithThread(thread.ID)
			}
			step.Instrument = thread.Instruments[0]
		}

		onError := engine.Policy(strings.TrimSpace(raw.OnError))
		if err := onError.Validate(); err != nil {
			return nil, engine.NewDefinitionError(
				fmt.Sprintf("command %q has invalid onError", command), err).
				WithCode(engine.ErrCodeValidation).WithThread(thread.ID)
		}
		step.OnError = onError

		seq = append(seq, step)
	}
	return seq, nil
}

func resolveSchedule(threadID string, spec ScheduleSpec) (*engine.Schedule, error) {
	schedule := &engine.Schedule{
		TimeZone: strings.TrimSpace(spec.TimeZone),
		Loop: engine.Loop{
			Quantity: spec.Loop.Quantity,
			Value:    spec.Loop.Value,
			Units:    engine.LoopUnits(strings.TrimSpace(spec.Loop.Units)),
		},
		Event: engine.Event{
			ParentID: strings.TrimSpace(spec.Event.ParentID),
			EventID:  strings.TrimSpace(spec.Event.EventID),
		},
	}

	raw := strings.TrimSpace(spec.StartTime)
	if raw != "" {
		start, err := parseStartTime(raw)
		if err != nil {
			return nil, engine.NewScheduleError(
				fmt.Sprintf("invalid startTime %q", raw), err).
				WithCode(engine.ErrCodeBadSchedule).WithThread(threadID)
		}
		schedule.StartTime = start
	}
	return schedule, nil
}

func parseStartTime(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range startTimeLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// filterDisabled drops blank entries and entries commented out with a
// leading '#'.
func filterDisabled(entries []string) []string {
	var out []string
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
