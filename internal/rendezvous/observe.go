// SPDX-License-Identifier: MPL-2.0

package rendezvous

import "time"

// Event kinds published by the engine.
const (
	EventArrival   EventKind = "arrival"
	EventRelease   EventKind = "release"
	EventDeparture EventKind = "departure"
	EventTimeout   EventKind = "timeout"
	EventMerge     EventKind = "merge"
	EventAbort     EventKind = "abort"
	EventSeed      EventKind = "seed"
	EventPrune     EventKind = "prune"
)

type (
	// Observer receives engine measurements. Calls happen with the engine
	// mutex held and must not block.
	Observer interface {
		Arrived(phase Phase)
		Released(phase Phase, members int, waited time.Duration)
		Retracted(phase Phase, outcome Outcome)
		Merged(phase Phase)
		Aborted(phase Phase)
		Pruned(n int)
		Gauges(openBarriers, entities int)
	}

	// EventKind names an engine event.
	EventKind string

	// Event describes one engine state change.
	Event struct {
		Kind    EventKind  `json:"kind"`
		Time    time.Time  `json:"time"`
		Phase   Phase      `json:"phase,omitempty"`
		ID      EntityID   `json:"id,omitempty"`
		Closure string     `json:"closure,omitempty"`
		Members []EntityID `json:"members,omitempty"`
		Detail  string     `json:"detail,omitempty"`
	}

	// EventSink receives engine events. Publish is called with the engine
	// mutex held and must not block.
	EventSink interface {
		Publish(Event)
	}

	nopObserver struct{}
	nopSink     struct{}
)

func (nopObserver) Arrived(Phase) {}
func (nopObserver) Released(Phase, int, time.Duration) {}
func (nopObserver) Retracted(Phase, Outcome) {}
func (nopObserver) Merged(Phase) {}
func (nopObserver) Aborted(Phase) {}
func (nopObserver) Pruned(int) {}
func (nopObserver) Gauges(int, int) {}
func (nopSink) Publish(Event) {}
