package missiondef

import (
	"cuelang.org/go/cue/cuecontext"

	"github.com/openmission/openmission/pkg/engine"
)

// LoadCUE parses a CUE definition document and resolves it. The CUE
// value must evaluate to the same tree shape the YAML format uses;
// CUE's own constraints and defaults have already been applied by the
// time the document is decoded.
func (l *Loader) LoadCUE(data []byte) (*engine.MissionDefinition, error) {
	ctx := cuecontext.New()

	value := ctx.CompileBytes(data)
	if err := value.Err(); err != nil {
		return nil, engine.NewDefinitionError("invalid CUE in mission definition", err).
			WithCode(engine.ErrCodeParse)
	}
	if err := value.Validate(); err != nil {
		return nil, engine.NewDefinitionError("CUE mission definition failed validation", err).
			WithCode(engine.ErrCodeValidation)
	}

	var doc Document
	if err := value.Decode(&doc); err != nil {
		return nil, engine.NewDefinitionError("CUE mission definition has wrong shape", err).
			WithCode(engine.ErrCodeParse)
	}
	return l.Resolve(&doc)
}
