package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/OmChillure/medchat"
	"github.com/OmChillure/medchat/internal/chat"
	"github.com/tmaxmax/go-sse"
)

// Main serves the web front-end. Every browser gets its own chat.Session, identified by a cookie and
// kept in memory for the lifetime of the process. Session changes are pushed to the browser through
// server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	answerer chat.Answerer
	sessions *sessions

	// ctx is the parent of every submission, cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

// sessions keeps the chat sessions of connected browsers. A session that has not been used for ttl and
// is not waiting for an answer is dropped when the next session is created.
type sessions struct {
	mu   sync.Mutex
	byID map[string]*sessionEntry
	ttl  time.Duration
	now  func() time.Time
}

type sessionEntry struct {
	session     *chat.Session
	unsubscribe func()
	lastSeen    time.Time
}

// Option configures a Main.
type Option func(*Main)

const (
	sessionCookie = "medchat_session"
	errLoggerKey  = "err"

	// DefaultSessionTTL is how long an idle session is kept.
	DefaultSessionTTL = 30 * time.Minute
)

// WithSessionTTL sets how long an idle session is kept in memory. A browser whose session was dropped
// gets 404 on its next submission and reloads into a new session.
func WithSessionTTL(ttl time.Duration) Option {
	return func(m *Main) {
		m.sessions.ttl = ttl
	}
}

// NewMain creates a new Main instance answering through answerer. It initializes the SSE server and
// parses the HTML templates from the embedded filesystem.
func NewMain(answerer chat.Answerer, logger *slog.Logger, opts ...Option) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		medchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				// Each browser only receives the events of its own chat session
				if id := requestSessionID(s.Req); id != "" {
					topics = append(topics, sessionTopic(id))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		answerer:  answerer,
		sessions: &sessions{
			byID: make(map[string]*sessionEntry),
			ttl:  DefaultSessionTTL,
			now:  time.Now,
		},
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("module", "handlers")),
	}
	for _, opt := range opts {
		opt(&m)
	}

	// A connecting client is brought up to date with its session before it receives live events.
	m.sseSrv.Provider = &sse.Joe{Replayer: sessionReplayer{main: m}}

	return m, nil
}

const sessionTopicPrefix = "session-"

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("%s%s", sessionTopicPrefix, sessionID)
}

// requestSessionID returns the session ID carried by the cookie, or by the session_id query parameter
// for clients that cannot send cookies with their event stream.
func requestSessionID(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("session_id")
}

// session returns the chat session of the request, if it is still known, and marks it as used.
func (m Main) session(r *http.Request) (*chat.Session, bool) {
	return m.sessions.get(requestSessionID(r))
}

// newSession creates a chat session whose changes are published to its SSE topic.
func (m Main) newSession() *chat.Session {
	s := chat.NewSession(m.answerer, m.logger)
	unsubscribe := s.Subscribe(m.publisher(s.ID()))

	evicted := m.sessions.add(s, unsubscribe)

	m.logger.Debug("New chat session", slog.String("session", s.ID()), slog.Int("evicted", evicted))
	return s
}

func (ss *sessions) get(id string) (*chat.Session, bool) {
	if id == "" {
		return nil, false
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	e, ok := ss.byID[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = ss.now()
	return e.session, true
}

// add stores s after dropping expired sessions and returns how many were dropped.
func (ss *sessions) add(s *chat.Session, unsubscribe func()) int {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := ss.now()
	evicted := 0
	for id, e := range ss.byID {
		if now.Sub(e.lastSeen) < ss.ttl || e.session.Snapshot().Pending {
			continue
		}
		e.unsubscribe()
		delete(ss.byID, id)
		evicted++
	}

	ss.byID[s.ID()] = &sessionEntry{session: s, unsubscribe: unsubscribe, lastSeen: now}
	return evicted
}

// HandleSSE streams the events of the caller's chat session.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance. It cancels pending submissions, broadcasts a close
// message to all connected clients and waits up to 5 seconds for connections to terminate. After the
// timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.cancel()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// An event without data is dropped by browsers
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
