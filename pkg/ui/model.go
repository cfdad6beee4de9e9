package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/lifeline/pkg/chat"
	"github.com/go-go-golems/lifeline/pkg/engine"
	"github.com/go-go-golems/lifeline/pkg/session"
)

// view determines which screen is showing.
type view int

const (
	viewWaiting view = iota
	viewChat
	viewFeedback
)

// feedbackRatings maps the dialog's number keys to rating values.
var feedbackRatings = []string{"very-helpful", "helpful", "neutral", "unhelpful"}

// Model is the interactive chat surface. All lifecycle decisions live in the
// engine; the model renders state and translates key presses into engine
// calls. Engine events arrive as bubbletea messages via ForwardEvents.
type Model struct {
	engine *engine.Engine
	logger zerolog.Logger
	styles Styles

	viewport viewport.Model
	textarea textarea.Model
	ready    bool
	width    int
	height   int

	view        view
	locked      bool
	peerTyping  bool
	degraded    bool
	unread      int
	sendErr     string
	notice      string
	feedbackErr string
	quitting    bool
}

// NewModel builds the surface for a session the engine is about to adopt (or
// already has); sess decides the initial screen.
func NewModel(eng *engine.Engine, sess chat.Session, logger zerolog.Logger) Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.CharLimit = 2000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	m := Model{
		engine:   eng,
		logger:   logger.With().Str("component", "ui").Logger(),
		styles:   DefaultStyles(),
		textarea: ta,
		view:     viewWaiting,
	}
	if sess.Status != chat.StatusWaiting {
		m.view = viewChat
	}
	m.locked = sess.IsLocked
	return m
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		if m.view != viewChat || !m.ready {
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m.afterScroll(), cmd

	case newMessagesMsg:
		return m.handleNewMessages(len(msg.ev.Messages)), nil

	case messageSentMsg:
		m.refreshTranscript()
		m.viewport.GotoBottom()
		return m, nil

	case transitionMsg:
		if msg.ev.To == chat.StatusActive && m.view == viewWaiting {
			m.view = viewChat
			m.notice = ""
			m.refreshTranscript()
			m.viewport.GotoBottom()
		}
		return m, nil

	case lockedMsg:
		m.locked = true
		m.peerTyping = false
		return m, nil

	case terminalMsg:
		m.peerTyping = false
		if m.engine.FeedbackActive() {
			m.view = viewFeedback
		}
		return m, nil

	case typingMsg:
		m.peerTyping = msg.ev.Active
		return m, nil

	case degradedMsg:
		m.degraded = true
		m.notice = "Connection problems, retrying..."
		return m, nil

	case recoveredMsg:
		m.degraded = false
		m.notice = ""
		m.refreshTranscript()
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			// The composer kept the text; only surface the failure.
			m.sendErr = "Message not sent: " + msg.err.Error()
			m.textarea.SetValue(msg.content)
		}
		return m, nil

	case flagResultMsg:
		if msg.err != nil {
			m.notice = "Could not report message"
		} else {
			m.notice = "Message reported"
			m.refreshTranscript()
		}
		return m, nil

	case cancelResultMsg:
		if msg.err != nil && !isNotWaiting(msg.err) {
			m.notice = "Could not cancel the request"
			return m, nil
		}
		return m, tea.Quit

	case feedbackResultMsg:
		if msg.err != nil {
			m.feedbackErr = "Could not submit feedback, try again or press s to skip"
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.quitting = true
		return m, tea.Quit
	}

	switch m.view {
	case viewWaiting:
		if msg.Type == tea.KeyEsc || msg.String() == "c" {
			eng := m.engine
			return m, func() tea.Msg {
				return cancelResultMsg{err: eng.CancelRequest(context.Background())}
			}
		}
		return m, nil

	case viewFeedback:
		return m.handleFeedbackKey(msg)
	}

	switch msg.Type {
	case tea.KeyEnter:
		return m.submitInput()
	case tea.KeyEsc:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyCtrlR:
		return m.flagNewestPeerMessage()
	case tea.KeyEnd:
		m.engine.MarkSeen(context.Background())
		m.unread = 0
		m.viewport.GotoBottom()
		return m, nil
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m.afterScroll(), cmd
	}

	var cmd tea.Cmd
	before := m.textarea.Value()
	m.textarea, cmd = m.textarea.Update(msg)
	after := m.textarea.Value()
	if after != before {
		m.sendErr = ""
		if after == "" {
			m.engine.InputIdle(context.Background())
		} else {
			m.engine.NotifyTyping(context.Background())
		}
	}
	return m, cmd
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	content := strings.TrimSpace(m.textarea.Value())
	if content == "" {
		return m, nil
	}
	if m.locked {
		m.sendErr = "This session has ended; messages can no longer be sent."
		return m, nil
	}

	// Optimistic clear: the content rides along in sendResultMsg and is
	// restored on failure.
	m.textarea.Reset()
	m.sendErr = ""
	eng := m.engine
	return m, func() tea.Msg {
		_, err := eng.Send(context.Background(), content)
		return sendResultMsg{content: content, err: err}
	}
}

func (m Model) flagNewestPeerMessage() (tea.Model, tea.Cmd) {
	var target *chat.Message
	msgs := m.engine.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderType == chat.SenderVolunteer && !msgs[i].Moderated {
			target = &msgs[i]
			break
		}
	}
	if target == nil {
		m.notice = "Nothing to report"
		return m, nil
	}
	id := target.ID
	eng := m.engine
	return m, func() tea.Msg {
		return flagResultMsg{messageID: id, err: eng.Flag(context.Background(), id, "")}
	}
}

func (m Model) handleFeedbackKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "s" || msg.Type == tea.KeyEsc {
		m.engine.SkipFeedback()
		m.quitting = true
		return m, tea.Quit
	}
	for i, rating := range feedbackRatings {
		if key == fmt.Sprintf("%d", i+1) {
			eng := m.engine
			r := rating
			return m, func() tea.Msg {
				_, err := eng.SubmitFeedback(context.Background(), r, "")
				return feedbackResultMsg{err: err}
			}
		}
	}
	return m, nil
}

// afterScroll runs after the user moved the viewport; returning to the
// newest message counts as having read everything accumulated above it.
func (m Model) afterScroll() Model {
	if m.unread > 0 && m.nearBottom() {
		m.engine.MarkSeen(context.Background())
		m.unread = 0
	}
	return m
}

// nearBottom allows a few lines of slack, the terminal analog of the
// original's pixel threshold, so a reader hovering just above the newest
// message still gets auto-scrolled.
func (m Model) nearBottom() bool {
	if m.viewport.AtBottom() {
		return true
	}
	return m.viewport.TotalLineCount()-(m.viewport.YOffset+m.viewport.Height) <= 5
}

func (m Model) handleNewMessages(batchSize int) Model {
	decision := m.engine.OnViewportBatch(context.Background(), batchSize, m.nearBottom())
	m.refreshTranscript()
	if decision.AutoScroll {
		m.unread = 0
		m.viewport.GotoBottom()
	} else {
		m.unread = decision.Unread
	}
	return m
}

func (m Model) resize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height
	chrome := m.textarea.Height() + 5 // header, banners, typing line, help
	if !m.ready {
		m.viewport = viewport.New(msg.Width, max(msg.Height-chrome, 3))
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chrome, 3)
	}
	m.textarea.SetWidth(msg.Width - 2)
	m.refreshTranscript()
	m.viewport.GotoBottom()
	return m
}

func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
}

func (m Model) renderTranscript() string {
	var b strings.Builder
	for _, msg := range m.engine.Messages() {
		b.WriteString(m.renderMessage(msg))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m Model) renderMessage(msg chat.Message) string {
	ts := m.styles.Timestamp.Render(msg.CreatedAt.Local().Format(time.Kitchen))
	if msg.SenderType == chat.SenderSystem {
		return m.styles.SystemLine.Render("— "+msg.Content+" —") + " " + ts
	}

	label := m.styles.PeerLabel.Render("Volunteer")
	if msg.SenderType == chat.SenderUser {
		label = m.styles.UserLabel.Render("You")
	}
	content := msg.Content
	if msg.Moderated {
		content = m.styles.Moderated.Render("[message removed]")
	}
	return fmt.Sprintf("%s %s\n%s", label, ts, content)
}

func (m Model) View() string {
	if m.quitting {
		return "Take care.\n"
	}
	if !m.ready {
		return "Loading..."
	}

	switch m.view {
	case viewWaiting:
		return m.viewWaitingScreen()
	case viewFeedback:
		return m.viewFeedbackDialog()
	}
	return m.viewChatScreen()
}

func (m Model) viewWaitingScreen() string {
	box := m.styles.WaitingBox.Render(
		"Waiting for a volunteer to join...\n\n" +
			m.styles.HelpLine.Render("c/esc cancel request · ctrl+c quit"))
	if m.notice != "" {
		box += "\n" + m.styles.ErrorLine.Render(m.notice)
	}
	return box
}

func (m Model) viewChatScreen() string {
	var b strings.Builder
	b.WriteString(m.styles.Header.Render("lifeline chat"))
	if m.degraded {
		b.WriteString(" " + m.styles.ErrorLine.Render("● reconnecting"))
	}
	b.WriteByte('\n')

	if m.unread > 0 {
		b.WriteString(m.styles.UnreadBanner.Render(fmt.Sprintf("%d new messages — press end to jump", m.unread)))
		b.WriteByte('\n')
	}

	b.WriteString(m.viewport.View())
	b.WriteByte('\n')

	if m.locked {
		b.WriteString(m.styles.LockBanner.Render("This chat session has ended and is locked."))
		b.WriteByte('\n')
	} else if m.peerTyping {
		b.WriteString(m.styles.Typing.Render("Volunteer is typing..."))
		b.WriteByte('\n')
	}

	if m.sendErr != "" {
		b.WriteString(m.styles.ErrorLine.Render(m.sendErr))
		b.WriteByte('\n')
	}
	if m.notice != "" && !m.degraded {
		b.WriteString(m.styles.HelpLine.Render(m.notice))
		b.WriteByte('\n')
	}

	if !m.locked {
		b.WriteString(m.textarea.View())
		b.WriteByte('\n')
	}
	b.WriteString(m.styles.HelpLine.Render("enter send · ctrl+r report · end jump to newest · esc quit"))
	return b.String()
}

func (m Model) viewFeedbackDialog() string {
	var b strings.Builder
	b.WriteString(m.styles.DialogTitle.Render("How was this conversation?"))
	b.WriteString("\n\n")
	for i, rating := range feedbackRatings {
		b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, strings.ReplaceAll(rating, "-", " ")))
	}
	b.WriteString("\n" + m.styles.HelpLine.Render("1-4 rate · s skip"))
	if m.feedbackErr != "" {
		b.WriteString("\n" + m.styles.ErrorLine.Render(m.feedbackErr))
	}
	return m.styles.Dialog.Render(b.String())
}

func isNotWaiting(err error) bool {
	return errors.Is(err, session.ErrNotWaiting)
}
