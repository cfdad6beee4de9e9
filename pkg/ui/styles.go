package ui

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styling for the chat surface.
type Styles struct {
	Header       lipgloss.Style
	UserLabel    lipgloss.Style
	PeerLabel    lipgloss.Style
	SystemLine   lipgloss.Style
	Moderated    lipgloss.Style
	Timestamp    lipgloss.Style
	Typing       lipgloss.Style
	UnreadBanner lipgloss.Style
	LockBanner   lipgloss.Style
	ErrorLine    lipgloss.Style
	WaitingBox   lipgloss.Style
	Dialog       lipgloss.Style
	DialogTitle  lipgloss.Style
	HelpLine     lipgloss.Style
}

func DefaultStyles() Styles {
	var (
		accent  = lipgloss.Color("86")
		peer    = lipgloss.Color("213")
		muted   = lipgloss.Color("241")
		warning = lipgloss.Color("214")
		danger  = lipgloss.Color("196")
	)
	return Styles{
		Header:       lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1),
		UserLabel:    lipgloss.NewStyle().Bold(true).Foreground(accent),
		PeerLabel:    lipgloss.NewStyle().Bold(true).Foreground(peer),
		SystemLine:   lipgloss.NewStyle().Italic(true).Foreground(muted),
		Moderated:    lipgloss.NewStyle().Faint(true).Strikethrough(true),
		Timestamp:    lipgloss.NewStyle().Foreground(muted),
		Typing:       lipgloss.NewStyle().Italic(true).Foreground(muted),
		UnreadBanner: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(warning).Padding(0, 1),
		LockBanner:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(muted).Padding(0, 1),
		ErrorLine:    lipgloss.NewStyle().Foreground(danger),
		WaitingBox:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 3),
		Dialog:       lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).Padding(1, 2),
		DialogTitle:  lipgloss.NewStyle().Bold(true).Underline(true),
		HelpLine:     lipgloss.NewStyle().Faint(true),
	}
}
