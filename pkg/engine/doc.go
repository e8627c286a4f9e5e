// Package engine implements the mission execution engine: it takes a
// fully resolved MissionDefinition and drives its mission threads
// through their pre/main/post phases against remote instrument
// resources.
//
// The engine is organized around a small set of components:
//
//   - Command Model: ParseCommand turns a raw command token into a
//     typed CommandStep at load time; the engine never re-parses
//     tokens during execution.
//   - Error Policy: ResolvePolicy and Decide determine, per step, how
//     a dispatch failure is handled (retry, skip, or abort).
//   - SequenceRunner: executes one ordered sequence of steps, honoring
//     wait() pseudo-commands and the error policy.
//   - MissionThread: owns one thread's lifecycle: trigger wait, the
//     three phases, loop iteration, and cooperative cancellation.
//   - MissionScheduler: owns the set of threads, routes inter-thread
//     events, and exposes operator control (status, cancel).
//   - ClientDispatcher: adapts parsed steps onto the external
//     InstrumentClient, serializing access per instrument.
//
// Each mission thread is an independent goroutine. Within a thread,
// phase and step order are strictly sequential; across threads no
// ordering exists except what event triggers encode. A thread's
// wait(), loop sleep, and trigger wait suspend only that thread.
package engine
