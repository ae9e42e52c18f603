// Package ipc is the line-delimited JSON protocol between the orchestrator
// and a render worker. The orchestrator writes two request lines to the
// worker's stdin; the worker answers with one event per line on stdout.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind identifies an event variant.
type EventKind int

const (
	KindStartMixing EventKind = iota + 1
	KindStartRender
	KindFrame
	KindDone
)

func (k EventKind) String() string {
	switch k {
	case KindStartMixing:
		return "StartMixing"
	case KindStartRender:
		return "StartRender"
	case KindFrame:
		return "Frame"
	case KindDone:
		return "Done"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one worker progress event. Unit variants encode as a bare
// string; variants with a payload as a single-key object.
type Event struct {
	Kind EventKind
	// Total is the frame count carried by StartRender.
	Total uint64
	// Elapsed is the wall time in seconds carried by Done.
	Elapsed float64
}

// Constructors for each event variant.
func StartMixing() Event { return Event{Kind: KindStartMixing} }
func StartRender(total uint64) Event { return Event{Kind: KindStartRender, Total: total} }
func Frame() Event { return Event{Kind: KindFrame} }
func Done(elapsed float64) Event { return Event{Kind: KindDone, Elapsed: elapsed} }

var ErrUnknownEvent = errors.New("unknown event")

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindStartMixing, KindFrame:
		return json.Marshal(e.Kind.String())
	case KindStartRender:
		return json.Marshal(map[string]uint64{"StartRender": e.Total})
	case KindDone:
		return json.Marshal(map[string]float64{"Done": e.Elapsed})
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, e.Kind)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch name {
		case "StartMixing":
			*e = StartMixing()
		case "Frame":
			*e = Frame()
		default:
			return fmt.Errorf("%w: %q", ErrUnknownEvent, name)
		}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, data)
	}
	if len(obj) != 1 {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, data)
	}
	if raw, ok := obj["StartRender"]; ok {
		var total uint64
		if err := json.Unmarshal(raw, &total); err != nil {
			return fmt.Errorf("StartRender: %w", err)
		}
		*e = StartRender(total)
		return nil
	}
	if raw, ok := obj["Done"]; ok {
		var elapsed float64
		if err := json.Unmarshal(raw, &elapsed); err != nil {
			return fmt.Errorf("Done: %w", err)
		}
		*e = Done(elapsed)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownEvent, data)
}

// ErrOrder is an event that breaks the protocol's ordering.
var ErrOrder = errors.New("event out of order")

// sequence tracks the ordering StartMixing, StartRender, Frame*, Done.
type sequence struct {
	last   EventKind
	total  uint64
	frames uint64
}

func (s *sequence) advance(e Event) error {
	ok := false
	switch e.Kind {
	case KindStartMixing:
		ok = s.last == 0
	case KindStartRender:
		ok = s.last == KindStartMixing
	case KindFrame:
		ok = (s.last == KindStartRender || s.last == KindFrame) && s.frames < s.total
	case KindDone:
		ok = (s.last == KindStartRender || s.last == KindFrame) && s.frames == s.total
	}
	if !ok {
		return fmt.Errorf("%w: %s after %s (%d/%d frames)", ErrOrder, e.Kind, s.last, s.frames, s.total)
	}

	s.last = e.Kind
	switch e.Kind {
	case KindStartRender:
		s.total = e.Total
	case KindFrame:
		s.frames++
	}
	return nil
}
