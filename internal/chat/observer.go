package chat

import (
	"slices"
	"sync"
)

// ChangeKind tells observers what caused a notification.
type ChangeKind int

const (
	// ChangeDraft is sent when the draft text changes through SetDraft.
	ChangeDraft ChangeKind = iota + 1
	// ChangeMessage is sent when a message is appended. The user message of a submission is appended
	// together with the switch to pending.
	ChangeMessage
	// ChangePending is sent when the pending window closes.
	ChangePending
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeDraft:
		return "draft"
	case ChangeMessage:
		return "message"
	case ChangePending:
		return "pending"
	default:
		return "unknown"
	}
}

// Change is delivered to observers after every mutation of a session.
type Change struct {
	Kind  ChangeKind
	State State
}

// Observer receives session changes. Observers run synchronously on the goroutine that mutated the
// session, without any session lock held, so they may call Snapshot but should hand slow work off.
type Observer func(Change)

type subscription struct {
	id       int
	observer Observer
}

// Subscribe registers o and returns a function that removes it. Observers are called in subscription
// order.
func (s *Session) Subscribe(o Observer) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	id := s.nextObsID
	s.nextObsID++
	s.observers = append(s.observers, subscription{id: id, observer: o})

	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		s.observers = slices.DeleteFunc(s.observers, func(sub subscription) bool { return sub.id == id })
	}
}

func (s *Session) notify(kind ChangeKind, st State) {
	s.obsMu.Lock()
	observers := slices.Clone(s.observers)
	s.obsMu.Unlock()

	for _, sub := range observers {
		sub.observer(Change{Kind: kind, State: st})
	}
}

// FollowTail returns an observer that calls fn each time the transcript grows. Front-ends use it to
// keep the latest message in view.
func FollowTail(fn func(State)) Observer {
	var mu sync.Mutex
	seen := 0

	return func(c Change) {
		mu.Lock()
		grew := len(c.State.Messages) > seen
		if grew {
			seen = len(c.State.Messages)
		}
		mu.Unlock()

		if grew {
			fn(c.State)
		}
	}
}
