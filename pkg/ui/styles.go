package ui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("62")).Padding(0, 1)

	statusConnectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	statusConnectingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	statusDisconnectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	agentStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF")).Italic(true)
	userLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	botLabelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	emptyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	inputBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)
