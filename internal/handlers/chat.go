package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/OmChillure/medchat/internal/chat"
	"github.com/OmChillure/medchat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// SSE event types for real-time updates.
var (
	messagesSSEType = sse.Type("messages")
	pendingSSEType  = sse.Type("pending")
)

// HandleChats accepts a submission through HTTP POST. The "message" form field is handed to the
// caller's chat session and the handler answers 202 Accepted right away; the user message, the answer
// and the pending indicator reach the browser as server-sent events.
//
// It answers 400 for a blank message, 404 when the session is unknown (for example after a restart)
// and 409 while the session is still waiting for the previous answer.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if strings.TrimSpace(msg) == "" {
		m.logger.Debug("Blank message rejected")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	s, ok := m.session(r)
	if !ok {
		m.logger.Warn("Unknown session", slog.String("session", requestSessionID(r)))
		http.Error(w, "Session not found, reload the page", http.StatusNotFound)
		return
	}

	// The submission is accepted or rejected here; only the wait for the answer runs in the background.
	if _, err := s.Start(m.ctx, msg); err != nil {
		if errors.Is(err, chat.ErrPending) {
			http.Error(w, "An answer is still pending", http.StatusConflict)
			return
		}
		m.logger.Error("Submission rejected",
			slog.String("session", s.ID()),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// publisher returns the observer that forwards the changes of a session to its SSE topic. Appended
// messages are sent rendered; every change also sends the pending flag so the page can toggle the
// thinking indicator and the input.
func (m Main) publisher(sessionID string) chat.Observer {
	topic := sessionTopic(sessionID)

	return func(c chat.Change) {
		if c.Kind == chat.ChangeDraft {
			return
		}

		if c.Kind == chat.ChangeMessage && len(c.State.Messages) > 0 {
			if err := m.publishMessage(c.State.Messages[len(c.State.Messages)-1], topic); err != nil {
				m.logger.Error("Failed to publish message",
					slog.String("session", sessionID),
					slog.String(errLoggerKey, err.Error()))
			}
		}

		if err := m.sseSrv.Publish(pendingEvent(c.State.Pending), topic); err != nil {
			m.logger.Error("Failed to publish pending state",
				slog.String("session", sessionID),
				slog.String(errLoggerKey, err.Error()))
		}
	}
}

func (m Main) publishMessage(msg models.Message, topic string) error {
	e, err := m.messageEvent(msg)
	if err != nil {
		return err
	}
	if err := m.sseSrv.Publish(e, topic); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// messageEvent renders msg with its partial template into a "messages" event.
func (m Main) messageEvent(msg models.Message) (*sse.Message, error) {
	rendered, err := renderMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, messageTemplate(rendered.Role), rendered); err != nil {
		return nil, fmt.Errorf("failed to execute %s template: %w", messageTemplate(rendered.Role), err)
	}

	e := &sse.Message{Type: messagesSSEType}
	e.AppendData(sb.String())
	return e, nil
}

func pendingEvent(pending bool) *sse.Message {
	e := &sse.Message{Type: pendingSSEType}
	e.AppendData(strconv.FormatBool(pending))
	return e
}
