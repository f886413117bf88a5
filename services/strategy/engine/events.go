// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

// EventType names an orchestration event.
type EventType string

const (
	EventPlanned       EventType = "planned"
	EventStepStarted   EventType = "step_started"
	EventStepCompleted EventType = "step_completed"
	EventAnswered      EventType = "answered"
)

// Event is a progress notification for one turn.
//
// Step is a copy taken when the event fired. Its Output map is shared
// with the Strategy and must not be modified.
type Event struct {
	Type        EventType `json:"type"`
	StrategyID  string    `json:"strategy_id"`
	Step        *Step     `json:"step,omitempty"`
	Steps       []Step    `json:"steps,omitempty"`
	ParseFailed bool      `json:"parse_failed,omitempty"`
	Answer      string    `json:"answer,omitempty"`
	Path        string    `json:"path,omitempty"`
}

// Observer receives events synchronously on the turn's goroutine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }

func emit(obs Observer, e Event) {
	if obs != nil {
		obs.OnEvent(e)
	}
}

func stepCopies(steps []*Step) []Step {
	out := make([]Step, len(steps))
	for i, st := range steps {
		out[i] = *st
	}
	return out
}
