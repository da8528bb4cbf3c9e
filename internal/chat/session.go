// Package chat holds the conversation state machine shared by the web and terminal front-ends. A
// Session owns the transcript, the draft and the pending flag of one conversation and sequences each
// submission through an Answerer.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/OmChillure/medchat/internal/models"
	"github.com/google/uuid"
)

const (
	// ResultCountHint is the number of documents the answering service is asked to retrieve.
	ResultCountHint = 3
	// NoResponseText replaces the answer when the service replies without one.
	NoResponseText = "No response."

	errLoggerKey = "err"
)

var (
	// ErrBlankDraft is returned by Submit when the text is empty or only whitespace.
	ErrBlankDraft = errors.New("draft is blank")
	// ErrPending is returned by Submit while a previous submission is still waiting for its answer.
	ErrPending = errors.New("a request is already pending")
)

// Answerer is the transport to the answering service. It accepts a query and a result-count hint and
// returns the decoded response, or an error when the call could not be completed.
type Answerer interface {
	Ask(ctx context.Context, query string, k int) (models.QueryResponse, error)
}

// State is a snapshot of a session. Messages is a copy, so holders may keep it after the session moves
// on. Version increases with every mutation and lets observers discard snapshots delivered late.
type State struct {
	Messages []models.Message
	Draft    string
	Pending  bool
	Version  uint64
}

// Session is the state machine of one conversation. It is Idle until Submit accepts a draft, then
// AwaitingAnswer until the Answerer returns, then Idle again. At most one Answerer call is in flight.
type Session struct {
	id       string
	answerer Answerer
	logger   *slog.Logger

	mu       sync.Mutex
	messages []models.Message
	draft    string
	pending  bool
	version  uint64

	obsMu     sync.Mutex
	observers []subscription
	nextObsID int
}

// NewSession creates an idle session with an empty transcript.
func NewSession(answerer Answerer, logger *slog.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		answerer: answerer,
		logger:   logger.With(slog.String("module", "chat"), slog.String("session", id)),
	}
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SetDraft replaces the not-yet-submitted text.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	if s.draft == text {
		s.mu.Unlock()
		return
	}
	s.draft = text
	st := s.mutatedLocked()
	s.mu.Unlock()

	s.notify(ChangeDraft, st)
}

// SubmitDraft submits the current draft. See Submit.
func (s *Session) SubmitDraft(ctx context.Context) error {
	s.mu.Lock()
	draft := s.draft
	s.mu.Unlock()

	return s.Submit(ctx, draft)
}

// Submit sends text to the answering service and blocks until the answer is applied.
//
// Blank text returns ErrBlankDraft and a submission made while another is pending returns ErrPending;
// neither changes the session. Otherwise the user message is appended, the draft cleared and the
// session marked pending before the Answerer is called. On success the assistant message is appended,
// with NoResponseText when the response carries no answer. A failed call is logged and appends
// nothing. Either way the session returns to idle with an empty draft, and Submit returns nil.
func (s *Session) Submit(ctx context.Context, text string) error {
	if err := s.accept(text); err != nil {
		return err
	}
	s.answer(ctx, text)
	return nil
}

// Start is Submit without the wait. The submission is accepted or rejected before Start returns, so a
// caller sees ErrBlankDraft and ErrPending synchronously; the Answerer then runs on its own goroutine
// and done is closed once the session is idle again.
func (s *Session) Start(ctx context.Context, text string) (done <-chan struct{}, err error) {
	if err = s.accept(text); err != nil {
		return nil, err
	}

	ch := make(chan struct{})
	go func() {
		defer close(ch)
		s.answer(ctx, text)
	}()
	return ch, nil
}

// accept performs the atomic Idle to AwaitingAnswer transition.
func (s *Session) accept(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrBlankDraft
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return ErrPending
	}
	s.pending = true
	s.draft = ""
	s.messages = append(s.messages, models.NewMessage(models.RoleUser, text))
	st := s.mutatedLocked()
	s.mu.Unlock()

	s.notify(ChangeMessage, st)
	return nil
}

func (s *Session) answer(ctx context.Context, text string) {
	defer s.settle()

	res, err := s.answerer.Ask(ctx, text, ResultCountHint)
	if err != nil {
		s.logger.Error("Failed to query answering service",
			slog.String("query", text),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	if res.Error != "" {
		s.logger.Warn("Answering service reported an error",
			slog.String("query", text),
			slog.String(errLoggerKey, res.Error))
	}

	s.appendAnswer(models.NewMessage(models.RoleAssistant, res.AnswerText(NoResponseText)))
}

func (s *Session) appendAnswer(msg models.Message) {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		panic("chat: answer applied without a pending request")
	}
	s.messages = append(s.messages, msg)
	st := s.mutatedLocked()
	s.mu.Unlock()

	s.notify(ChangeMessage, st)
}

// settle ends the pending window. It runs deferred so a failing or panicking Answerer still leaves the
// session idle.
func (s *Session) settle() {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		panic("chat: settle without a pending request")
	}
	s.pending = false
	s.draft = ""
	st := s.mutatedLocked()
	s.mu.Unlock()

	s.notify(ChangePending, st)
}

func (s *Session) mutatedLocked() State {
	s.version++
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	return State{
		Messages: slices.Clone(s.messages),
		Draft:    s.draft,
		Pending:  s.pending,
		Version:  s.version,
	}
}
