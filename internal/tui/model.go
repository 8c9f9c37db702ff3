// Package tui is the terminal chat client. Its Update loop is the only
// code that touches the session and the message feed; network events reach
// it as tea messages.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lalith-99/accord/internal/client"
	"github.com/lalith-99/accord/internal/view"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const refreshInterval = 30 * time.Second

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("247"))
	typingStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244"))
	statusStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true)

	statusColors = map[client.Status]lipgloss.Color{
		client.StatusDisconnected:  lipgloss.Color("240"),
		client.StatusConnecting:    lipgloss.Color("214"),
		client.StatusHandshakeSent: lipgloss.Color("214"),
		client.StatusSubscribed:    lipgloss.Color("42"),
		client.StatusClosed:        lipgloss.Color("240"),
		client.StatusFailed:        lipgloss.Color("196"),
	}
)

type Options struct {
	// MessageMaxLength mirrors the server's limit so over-long input is
	// refused before it is sent.
	MessageMaxLength int
	// History is the number of feed entries kept on screen.
	History        int
	CoalesceSystem bool
	// Now defaults to time.Now.
	Now func() time.Time
}

type sessionEventMsg struct {
	session *client.Session
	event   client.Event
}

type refreshMsg time.Time

// Model is the bubbletea model for one chat window. Each reconnect
// replaces the session; the feed survives.
type Model struct {
	ctx        context.Context
	newSession func() *client.Session
	session    *client.Session
	feed       *view.MessageView
	opts       Options
	logger     *zap.Logger

	input    textinput.Model
	viewport viewport.Model
	ready    bool
	width    int

	typing     map[string]struct{}
	sentTyping bool
}

// New builds the model and opens the first session. newSession is called
// again for every reconnect.
func New(ctx context.Context, newSession func() *client.Session, opts Options, logger *zap.Logger) *Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	in := textinput.New()
	in.Placeholder = "Type a message and press Enter"
	in.Prompt = "> "
	in.Focus()

	m := &Model{
		ctx:        ctx,
		newSession: newSession,
		feed:       view.New(view.Options{Capacity: opts.History, CoalesceSystem: opts.CoalesceSystem, Now: opts.Now}),
		opts:       opts,
		logger:     logger,
		input:      in,
		typing:     make(map[string]struct{}),
	}
	m.open()
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(listen(m.session), textinput.Blink, refreshTick())
}

// listen waits for the next event from s. It returns nil once s is shut
// down, which ends the chain.
func listen(s *client.Session) tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-s.Events():
			return sessionEventMsg{session: s, event: ev}
		case <-s.Done():
			return nil
		}
	}
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.session.Close()
			return m, tea.Quit
		case "ctrl+r":
			return m, m.reconnect()
		case "enter":
			m.submit()
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.signalTyping()
		return m, cmd

	case sessionEventMsg:
		if msg.session != m.session {
			return m, nil
		}
		m.apply(m.session.Handle(msg.event))
		if m.session.Status().Terminal() {
			return m, nil
		}
		return m, listen(m.session)

	case refreshMsg:
		m.refresh()
		return m, refreshTick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("accord") + "  " + mutedStyle.Render(m.channelLabel()))
	b.WriteString("\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(strings.Join(m.feed.Lines(m.opts.Now()), "\n"))
	}
	b.WriteString("\n")
	b.WriteString(typingStyle.Render(typingLine(m.typingAuthors())))
	b.WriteString("\n")
	b.WriteString(m.statusBar())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

// Feed exposes the message feed.
func (m *Model) Feed() *view.MessageView {
	return m.feed
}

func (m *Model) Session() *client.Session {
	return m.session
}

func (m *Model) open() {
	m.session = m.newSession()
	m.sentTyping = false
	m.apply(m.session.Open(m.ctx))
}

func (m *Model) reconnect() tea.Cmd {
	if !m.session.Status().Terminal() {
		return nil
	}
	m.feed.AddNotice("Reconnecting...")
	m.open()
	return listen(m.session)
}

func (m *Model) submit() {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		m.input.Reset()
		return
	}
	if m.opts.MessageMaxLength > 0 && utf8.RuneCountInString(text) > m.opts.MessageMaxLength {
		m.notice(fmt.Sprintf("Message is too long (max %d characters)", m.opts.MessageMaxLength))
		return
	}

	if err := m.session.SendChatMessage(text); err != nil {
		if errors.Is(err, client.ErrNotConnected) {
			m.notice("Not connected to server")
		} else {
			m.logger.Warn("send failed", zap.Error(err))
			m.notice("Failed to send message: " + err.Error())
		}
		return
	}

	m.input.Reset()
	m.signalTyping()
}

// signalTyping tells the channel when the input goes from empty to
// non-empty and back.
func (m *Model) signalTyping() {
	typing := m.input.Value() != ""
	if typing == m.sentTyping || m.session.Status() != client.StatusSubscribed {
		return
	}
	if err := m.session.SendTyping(typing); err != nil {
		m.logger.Debug("typing update failed", zap.Error(err))
		return
	}
	m.sentTyping = typing
}

func (m *Model) apply(u client.Update) {
	for _, msg := range u.Messages {
		m.feed.Add(msg)
		delete(m.typing, msg.Author)
	}
	for _, ind := range u.Typing {
		if ind.Typing {
			m.typing[ind.Author] = struct{}{}
		} else {
			delete(m.typing, ind.Author)
		}
	}
	for _, n := range u.Notices {
		m.feed.AddNotice(n)
	}

	if u.StatusChanged {
		switch u.Status {
		case client.StatusSubscribed:
			m.feed.AddNotice("Connected as " + m.session.Username())
		case client.StatusClosed:
			m.feed.AddNotice("Disconnected. Press ctrl+r to reconnect.")
		case client.StatusFailed:
			if u.Err != nil {
				m.feed.AddNotice(fmt.Sprintf("Connection failed: %v. Press ctrl+r to reconnect.", u.Err))
			} else {
				m.feed.AddNotice("Connection failed. Press ctrl+r to reconnect.")
			}
		}
		if u.Status.Terminal() {
			clear(m.typing)
		}
	}
	m.refresh()
}

func (m *Model) notice(text string) {
	m.feed.AddNotice(text)
	m.refresh()
}

func (m *Model) resize(width, height int) {
	m.width = width
	feedHeight := max(height-5, 1)
	if !m.ready {
		m.viewport = viewport.New(width, feedHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = feedHeight
	}
	m.input.Width = max(width-4, 10)
	m.refresh()
}

// refresh re-renders the feed, which also brings relative times up to
// date. The view follows new lines only if it was already at the bottom.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom() || m.viewport.TotalLineCount() <= m.viewport.Height
	m.viewport.SetContent(strings.Join(m.feed.Lines(m.opts.Now()), "\n"))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) statusBar() string {
	status := m.session.Status()
	bar := statusStyle.Background(statusColors[status]).Render(status.String())
	if name := m.session.Username(); name != "" {
		bar += " " + mutedStyle.Render(name)
	}
	if status.Terminal() {
		bar += " " + mutedStyle.Render("ctrl+r reconnect")
	}
	return bar
}

func (m *Model) channelLabel() string {
	if id := m.session.ChannelID(); id != nil {
		return "channel " + id.String()
	}
	return "default channel"
}

func (m *Model) typingAuthors() []string {
	authors := lo.Keys(m.typing)
	sort.Strings(authors)
	return authors
}

func typingLine(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return authors[0] + " is typing…"
	case 2:
		return authors[0] + " and " + authors[1] + " are typing…"
	default:
		return "Several people are typing…"
	}
}
