package missiondef

// Document is the raw mission definition tree as it appears in YAML
// or CUE sources. Fields left blank are treated as "not set", never
// as errors; resolution into an engine definition happens in the
// Loader.
type Document struct {
	Name     string        `yaml:"name" json:"name" validate:"required"`
	Version  string        `yaml:"version" json:"version"`
	Platform PlatformSpec  `yaml:"platform" json:"platform"`
	Mission  []ThreadEntry `yaml:"mission" json:"mission" validate:"min=1"`
}

// PlatformSpec identifies the platform the mission runs against.
type PlatformSpec struct {
	PlatformID string `yaml:"platformID" json:"platformID"`
}

// ThreadEntry wraps one mission thread spec. The extra nesting level
// mirrors the definition format's `mission: [{missionThread: ...}]`
// shape.
type ThreadEntry struct {
	MissionThread ThreadSpec `yaml:"missionThread" json:"missionThread"`
}

// ThreadSpec is one mission thread as written in the definition.
type ThreadSpec struct {
	// ThreadID optionally names the thread; blank means the loader
	// assigns the zero-based index.
	ThreadID string `yaml:"threadID" json:"threadID"`

	// InstrumentID lists the instruments this thread is bound to.
	// Entries starting with '#' are disabled and filtered out.
	InstrumentID []string `yaml:"instrumentID" json:"instrumentID"`

	ErrorHandling ErrorHandlingSpec `yaml:"errorHandling" json:"errorHandling"`
	Schedule      ScheduleSpec      `yaml:"schedule" json:"schedule"`

	PreMissionSequence  []StepSpec `yaml:"preMissionSequence" json:"preMissionSequence"`
	MissionSequence     []StepSpec `yaml:"missionSequence" json:"missionSequence"`
	PostMissionSequence []StepSpec `yaml:"postMissionSequence" json:"postMissionSequence"`
}

// ErrorHandlingSpec is the thread's default policy and retry ceiling.
type ErrorHandlingSpec struct {
	Default    string `yaml:"default" json:"default"`
	MaxRetries int    `yaml:"maxRetries" json:"maxRetries" validate:"gte=0"`
}

// ScheduleSpec holds the raw trigger and loop configuration. The
// start time is a string so that a blank value reads as "event
// triggered only" rather than a parse error.
type ScheduleSpec struct {
	StartTime string    `yaml:"startTime" json:"startTime"`
	TimeZone  string    `yaml:"timeZone" json:"timeZone"`
	Loop      LoopSpec  `yaml:"loop" json:"loop"`
	Event     EventSpec `yaml:"event" json:"event"`
}

// LoopSpec controls main sequence repetition.
type LoopSpec struct {
	Quantity int     `yaml:"quantity" json:"quantity" validate:"gte=-1"`
	Value    float64 `yaml:"value" json:"value"`
	Units    string  `yaml:"units" json:"units"`
}

// EventSpec gates a thread's start on another thread's milestone.
type EventSpec struct {
	ParentID string `yaml:"parentID" json:"parentID"`
	EventID  string `yaml:"eventID" json:"eventID"`
}

// StepSpec is one raw command step. Commands starting with '#' are
// disabled and filtered out at load time.
type StepSpec struct {
	Command string `yaml:"command" json:"command"`
	OnError string `yaml:"onError" json:"onError"`
}
