package handlers

import (
	"log/slog"
	"strings"

	"github.com/OmChillure/medchat/internal/chat"
	"github.com/tmaxmax/go-sse"
)

// sessionReplayer brings a connecting SSE client up to date with its chat session: it sends every
// message of the transcript followed by the current pending flag. Joe runs Replay before the client
// is added to the subscribers and serializes it with publishes, so nothing published afterwards is
// missed. The page skips messages it already shows.
type sessionReplayer struct {
	main Main
}

// Put keeps nothing; the session itself is the history.
func (r sessionReplayer) Put(msg *sse.Message, _ []string) (*sse.Message, error) {
	return msg, nil
}

func (r sessionReplayer) Replay(sub sse.Subscription) error {
	s, ok := r.main.subscribedSession(sub.Topics)
	if !ok {
		return nil
	}

	st := s.Snapshot()
	for _, msg := range st.Messages {
		e, err := r.main.messageEvent(msg)
		if err != nil {
			r.main.logger.Error("Failed to replay message",
				slog.String("session", s.ID()),
				slog.String(errLoggerKey, err.Error()))
			continue
		}
		if err := sub.Client.Send(e); err != nil {
			return err
		}
	}

	if err := sub.Client.Send(pendingEvent(st.Pending)); err != nil {
		return err
	}
	return sub.Client.Flush()
}

// subscribedSession returns the chat session whose topic is among topics.
func (m Main) subscribedSession(topics []string) (*chat.Session, bool) {
	for _, topic := range topics {
		if id, ok := strings.CutPrefix(topic, sessionTopicPrefix); ok {
			return m.sessions.get(id)
		}
	}
	return nil, false
}
