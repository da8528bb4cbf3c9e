package handlers

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/OmChillure/medchat/internal/models"
)

// message is the template view of a models.Message. Content is ready-to-embed HTML: escaped text for
// user messages, rendered markdown for assistant messages.
type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time
}

type homePageData struct {
	SessionID string
	Messages  []message
	Pending   bool
}

func renderMessage(msg models.Message) (message, error) {
	var content template.HTML
	switch msg.Role {
	case models.RoleAssistant:
		html, err := models.RenderMarkdown(msg.Text)
		if err != nil {
			return message{}, err
		}
		content = template.HTML(html)
	default:
		content = template.HTML(template.HTMLEscapeString(msg.Text))
	}

	return message{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Content:   content,
		Timestamp: msg.Timestamp,
	}, nil
}

func messageTemplate(role string) string {
	if role == string(models.RoleAssistant) {
		return "ai_message"
	}
	return "user_message"
}

// HandleHome renders the splash screen followed by the chat panel of the caller's session. A browser
// without a known session gets a new one and the cookie identifying it.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, ok := m.session(r)
	if !ok {
		s = m.newSession()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    s.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	st := s.Snapshot()
	msgs := make([]message, len(st.Messages))
	for i, msg := range st.Messages {
		rendered, err := renderMessage(msg)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("message", fmt.Sprintf("%+v", msg)),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		msgs[i] = rendered
	}

	data := homePageData{
		SessionID: s.ID(),
		Messages:  msgs,
		Pending:   st.Pending,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
