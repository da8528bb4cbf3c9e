// Package tui is the terminal front-end: a bubbletea program showing a splash screen, then the
// transcript of a chat.Session above an input line.
package tui

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/OmChillure/medchat/internal/chat"
	"github.com/OmChillure/medchat/internal/models"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// SplashDuration is how long the splash screen stays up before the chat panel appears.
const SplashDuration = 2 * time.Second

const (
	defaultWidth  = 80
	defaultHeight = 24

	headerHeight = 2
	footerHeight = 4

	errLoggerKey = "err"
)

type (
	splashDoneMsg struct{}

	// stateMsg carries a session change into the update loop.
	stateMsg chat.Change

	// tailMsg asks the transcript to scroll to the latest message.
	tailMsg struct{}

	submittedMsg struct{ err error }
)

// Model is the bubbletea model of the terminal front-end. All session mutations happen through the
// session itself; the model only mirrors the last State it was sent.
type Model struct {
	ctx     context.Context
	session *chat.Session
	logger  *slog.Logger

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	glamourStyle string
	splash       bool
	state        chat.State
	width        int
	height       int
}

// Option customizes a Model.
type Option func(*Model)

// WithGlamourStyle selects the glamour style used for assistant answers, for example "dark", "light"
// or "notty".
func WithGlamourStyle(style string) Option {
	return func(m *Model) {
		m.glamourStyle = style
	}
}

// NewModel creates the model for session. ctx is handed to every submission and should be cancelled
// when the program exits.
func NewModel(ctx context.Context, session *chat.Session, logger *slog.Logger, opts ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask me anything..."
	ti.CharLimit = 0 // unlimited
	ti.Prompt = "> "

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = logoStyle

	m := Model{
		ctx:          ctx,
		session:      session,
		logger:       logger.With(slog.String("module", "tui")),
		input:        ti,
		viewport:     viewport.New(defaultWidth, defaultHeight-headerHeight-footerHeight),
		spinner:      sp,
		glamourStyle: "dark",
		splash:       true,
		state:        session.Snapshot(),
		width:        defaultWidth,
		height:       defaultHeight,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.resize(m.width, m.height)

	return m
}

// Subscribe forwards the changes of session to a running program through send, usually
// tea.Program.Send. Draft changes are not forwarded: they originate in the update loop itself and send
// would block it.
func Subscribe(session *chat.Session, send func(tea.Msg)) func() {
	unsubState := session.Subscribe(func(c chat.Change) {
		if c.Kind == chat.ChangeDraft {
			return
		}
		send(stateMsg(c))
	})
	unsubTail := session.Subscribe(chat.FollowTail(func(chat.State) {
		send(tailMsg{})
	}))

	return func() {
		unsubState()
		unsubTail()
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tea.Tick(SplashDuration, func(time.Time) tea.Msg { return splashDoneMsg{} }),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case splashDoneMsg:
		m.splash = false
		return m, m.input.Focus()

	case spinner.TickMsg:
		if !m.splash && !m.state.Pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stateMsg:
		return m.applyState(chat.Change(msg))

	case tailMsg:
		m.viewport.GotoBottom()
		return m, nil

	case submittedMsg:
		if msg.err != nil {
			// Enter raced with a pending answer or an emptied draft; nothing was sent.
			m.logger.Debug("Submission ignored", slog.String(errLoggerKey, msg.err.Error()))
		}
		return m, nil

	case tea.KeyMsg:
		return m.updateKeys(msg)
	}

	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	}

	if m.splash {
		return m, nil
	}

	switch msg.String() {
	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	// The input is hidden while an answer is pending.
	if m.state.Pending {
		return m, nil
	}

	if msg.Type == tea.KeyEnter {
		if strings.TrimSpace(m.input.Value()) == "" {
			return m, nil
		}
		return m, m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.session.SetDraft(m.input.Value())
	return m, cmd
}

// submit runs the blocking submission outside the update loop. Its changes come back as stateMsg.
func (m Model) submit() tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		return submittedMsg{err: session.SubmitDraft(ctx)}
	}
}

func (m Model) applyState(c chat.Change) (tea.Model, tea.Cmd) {
	if c.State.Version <= m.state.Version {
		return m, nil
	}

	wasPending := m.state.Pending
	m.state = c.State
	m.viewport.SetContent(m.renderHistory())

	switch {
	case m.state.Pending && !wasPending:
		m.input.Reset()
		m.input.Blur()
		return m, m.spinner.Tick
	case !m.state.Pending && wasPending:
		m.input.Reset()
		return m, m.input.Focus()
	}
	return m, nil
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	m.viewport.Width = width
	m.viewport.Height = max(1, height-headerHeight-footerHeight)
	m.input.Width = max(1, width-8)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.glamourStyle),
		glamour.WithWordWrap(max(20, width-4)),
	)
	if err != nil {
		m.logger.Error("Failed to create markdown renderer", slog.String(errLoggerKey, err.Error()))
	} else {
		m.renderer = renderer
	}

	m.viewport.SetContent(m.renderHistory())
}

func (m Model) renderHistory() string {
	if len(m.state.Messages) == 0 {
		return dimStyle.Render("Describe your symptoms to get started.")
	}

	var sb strings.Builder
	for i, msg := range m.state.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(msg))
	}
	return sb.String()
}

func (m Model) renderMessage(msg models.Message) string {
	if msg.Role == models.RoleUser {
		return userLabelStyle.Render("You") + "\n" + userTextStyle.Render(msg.Text) + "\n"
	}

	text := msg.Text
	if m.renderer != nil {
		rendered, err := m.renderer.Render(msg.Text)
		if err != nil {
			m.logger.Error("Failed to render answer", slog.String(errLoggerKey, err.Error()))
		} else {
			text = rendered
		}
	}
	return assistantLabelStyle.Render("Assistant") + "\n" + text
}

func (m Model) View() string {
	if m.splash {
		logo := logoStyle.Render("+ medchat +")
		loading := m.spinner.View() + " " + dimStyle.Render("Loading...")
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center, logo, "", loading))
	}

	var footer string
	if m.state.Pending {
		footer = m.spinner.View() + " " + thinkingStyle.Render("Thinking...")
	} else {
		footer = inputBoxStyle.Width(max(1, m.width-2)).Render(m.input.View())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Welcome to Medical AI Assistant"),
		m.viewport.View(),
		footer,
		dimStyle.Render("enter send • pgup/pgdown scroll • esc quit"),
	)
}

// Run starts the program on the terminal and blocks until the user quits.
func Run(ctx context.Context, session *chat.Session, logger *slog.Logger, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(NewModel(ctx, session, logger), opts...)
	unsubscribe := Subscribe(session, p.Send)
	defer unsubscribe()

	_, err := p.Run()
	return err
}
