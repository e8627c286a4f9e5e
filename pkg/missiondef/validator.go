package missiondef

import (
	"fmt"

	"github.com/openmission/openmission/pkg/engine"
)

// ValidateDefinition runs the semantic checks a resolved definition
// must pass before the engine will accept it: every thread carries a
// trigger, event gates reference defined threads, commands target
// bound instruments, and schedules are satisfiable.
func ValidateDefinition(def *engine.MissionDefinition) error {
	if len(def.Threads) == 0 {
		return engine.NewDefinitionError("mission has no enabled threads", nil).
			WithCode(engine.ErrCodeValidation)
	}

	seen := make(map[string]bool, len(def.Threads))
	for _, thread := range def.Threads {
		if seen[thread.ID] {
			return engine.NewDefinitionError(
				fmt.Sprintf("duplicate thread ID %s", thread.ID), nil).
				WithCode(engine.ErrCodeValidation).WithThread(thread.ID)
		}
		seen[thread.ID] = true
	}

	for _, thread := range def.Threads {
		if err := validateThread(def, &thread); err != nil {
			return err
		}
	}
	return nil
}

func validateThread(def *engine.MissionDefinition, thread *engine.ThreadDefinition) error {
	if !thread.Schedule.HasTrigger() {
		return engine.NewDefinitionError(
			fmt.Sprintf("thread %s has neither a start time nor an event trigger", thread.ID), nil).
			WithCode(engine.ErrCodeMissingTrigger).WithThread(thread.ID)
	}

	if event := thread.Schedule.Event; event.ParentID != "" || event.EventID != "" {
		if !event.IsSet() {
			return engine.NewDefinitionError(
				fmt.Sprintf("thread %s has a partial event trigger (both parentID and eventID are required)", thread.ID), nil).
				WithCode(engine.ErrCodeValidation).WithThread(thread.ID)
		}
		if def.Thread(event.ParentID) == nil {
			return engine.NewDefinitionError(
				fmt.Sprintf("thread %s waits on unknown parent thread %s", thread.ID, event.ParentID), nil).
				WithCode(engine.ErrCodeUnknownThread).WithThread(thread.ID)
		}
		if event.ParentID == thread.ID {
			return engine.NewDefinitionError(
				fmt.Sprintf("thread %s cannot wait on its own events", thread.ID), nil).
				WithCode(engine.ErrCodeValidation).WithThread(thread.ID)
		}
	}

	switch thread.ErrorHandling.Default {
	case engine.PolicyRetry, engine.PolicySkip, engine.PolicyAbort:
	default:
		return engine.NewDefinitionError(
			fmt.Sprintf("thread %s has invalid default error policy %q",
				thread.ID, thread.ErrorHandling.Default), nil).
			WithCode(engine.ErrCodeValidation).WithThread(thread.ID)
	}
	if thread.ErrorHandling.MaxRetries < 0 {
		return engine.NewDefinitionError(
			fmt.Sprintf("thread %s has negative maxRetries", thread.ID), nil).
			WithCode(engine.ErrCodeValidation).WithThread(thread.ID)
	}

	if err := validateLoop(thread); err != nil {
		return err
	}

	for _, seq := range []engine.Sequence{thread.Pre, thread.Main, thread.Post} {
		for _, step := range seq {
			if step.IsWait() {
				continue
			}
			if !thread.BindsInstrument(step.Instrument) {
				return engine.NewDefinitionError(
					fmt.Sprintf("command %q targets instrument %s outside thread %s's bound set",
						step.Raw, step.Instrument, thread.ID), nil).
					WithCode(engine.ErrCodeUnboundInstrument).
					WithThread(thread.ID).WithInstrument(step.Instrument)
			}
		}
	}
	return nil
}

// validateLoop rejects unsatisfiable loop schedules. A loop that
// calls for more than one iteration needs a positive repeat interval
// in a known unit.
func validateLoop(thread *engine.ThreadDefinition) error {
	loop := thread.Schedule.Loop
	if loop.Quantity < -1 {
		return engine.NewScheduleError(
			fmt.Sprintf("thread %s has invalid loop quantity %d", thread.ID, loop.Quantity), nil).
			WithCode(engine.ErrCodeBadSchedule).WithThread(thread.ID)
	}
	if loop.Iterations() == 1 {
		return nil
	}
	if _, err := loop.Interval(); err != nil {
		return engine.NewScheduleError(
			fmt.Sprintf("thread %s has an unsatisfiable loop schedule", thread.ID), err).
			WithCode(engine.ErrCodeBadSchedule).WithThread(thread.ID)
	}
	return nil
}
