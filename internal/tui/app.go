// Package tui provides the interactive terminal dashboard for Regent.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	jobItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	daemonOnlineStyle = lipgloss.NewStyle().
				Foreground(successColor).
				Bold(true)

	daemonOfflineStyle = lipgloss.NewStyle().
				Foreground(errorColor)
)

// pollInterval is how often the dashboard refreshes while jobs are active.
const pollInterval = 2 * time.Second

// App is the main TUI application model.
type App struct {
	client       *Client
	jobs         []JobItem
	selectedIdx  int
	input        textinput.Model
	width        int
	height       int
	mode         string // "list" or "detail"
	currentJob   *JobDetail
	message      string
	filter       string
	filterIdx    int
	loading      bool
	daemonOnline bool
	suggestions  *Suggestions
}

var filters = []string{"", "pending", "running", "completed", "failed"}
var filterNames = []string{"ALL", "PENDING", "RUNNING", "DONE", "FAILED"}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: ask <question> | delete | refresh | quit"
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		mode:        "list",
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchJobs(),
		a.checkDaemon(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.mode == "detail" {
				a.mode = "list"
				a.currentJob = nil
				return a, a.fetchJobs()
			}

		case "up", "k":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
			} else if a.mode == "list" && a.selectedIdx > 0 {
				a.selectedIdx--
			}

		case "down", "j":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
			} else if a.mode == "list" && a.selectedIdx < len(a.jobs)-1 {
				a.selectedIdx++
			}

		case "tab":
			// If suggestions visible, accept selection
			if a.suggestions.IsVisible() {
				if selected := a.suggestions.Selected(); selected != nil {
					a.input.SetValue(selected.Text + " ")
					a.suggestions.Update("")
				}
				return a, nil
			}
			// Cycle status filters
			a.filterIdx = (a.filterIdx + 1) % len(filters)
			a.filter = filters[a.filterIdx]
			a.selectedIdx = 0
			return a, a.fetchJobs()

		case "enter":
			// If suggestions visible, accept selection
			if a.suggestions.IsVisible() {
				if selected := a.suggestions.Selected(); selected != nil {
					a.input.SetValue(selected.Text + " ")
					a.suggestions.Update("")
				}
				return a, nil
			}
			cmd := strings.TrimSpace(a.input.Value())
			if cmd != "" {
				a.input.SetValue("")
				return a, a.executeCommand(cmd)
			} else if a.mode == "list" && len(a.jobs) > 0 {
				job := a.jobs[a.selectedIdx]
				a.mode = "detail"
				return a, a.fetchJobDetail(job.ID)
			}

		case "r":
			// Shortcut only while the command bar is empty, so typing works.
			if a.input.Value() == "" {
				if a.mode == "detail" && a.currentJob != nil {
					return a, a.fetchJobDetail(a.currentJob.ID)
				}
				return a, a.fetchJobs()
			}

		case "d":
			if a.input.Value() == "" && a.mode == "list" && len(a.jobs) > 0 {
				return a, a.deleteJob(a.jobs[a.selectedIdx].ID)
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4

	case jobsLoadedMsg:
		a.loading = false
		a.jobs = msg.jobs
		if a.selectedIdx >= len(a.jobs) {
			a.selectedIdx = max(0, len(a.jobs)-1)
		}
		// Keep polling while anything is still moving.
		if a.mode == "list" && hasActiveJobs(a.jobs) {
			cmds = append(cmds, a.tickCmd())
		}

	case jobDetailLoadedMsg:
		a.currentJob = msg.job
		if a.mode == "detail" && isActiveStatus(msg.job.Status) {
			cmds = append(cmds, a.tickCmd())
		}

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		switch a.mode {
		case "list":
			return a, a.fetchJobs()
		case "detail":
			if a.currentJob != nil && isActiveStatus(a.currentJob.Status) {
				return a, a.fetchJobDetail(a.currentJob.ID)
			}
		}

	case commandResultMsg:
		a.message = msg.message
		return a, a.fetchJobs()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	// Update input
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	// Update suggestions based on input
	a.suggestions.Update(a.input.Value())

	// Populate job id suggestions for @
	if strings.HasPrefix(a.input.Value(), "@") {
		var ids []string
		for _, j := range a.jobs {
			ids = append(ids, j.ID)
		}
		a.suggestions.SetJobs(ids)
	}

	return a, tea.Batch(cmds...)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	// Header with daemon status
	daemonStatus := daemonOnlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = daemonOfflineStyle.Render("○ DAEMON")
	}

	header := titleStyle.Render("👑 REGENT Orchestrator")
	header += "  " + daemonStatus
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[%d jobs]", len(a.jobs)))

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	// Main content area
	contentHeight := a.height - 8
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch a.mode {
	case "list":
		filterLabel := fmt.Sprintf(" Filter: [%s]", filterNames[a.filterIdx])
		b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(filterLabel) + "\n")
		b.WriteString(a.renderJobList(contentHeight - 1))
	case "detail":
		b.WriteString(a.renderJobDetail(contentHeight))
	}

	// Message bar
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	// Input box
	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	// Suggestions dropdown (if visible) - renders BELOW input
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	// Status bar
	var status string
	switch a.mode {
	case "list":
		status = fmt.Sprintf(" Jobs: %d | ↑↓:nav | Enter:detail | Tab:filter | d:delete | r:refresh | Ctrl+C:quit", len(a.jobs))
	default:
		status = " Esc:back | r:refresh | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) renderJobList(height int) string {
	if a.loading {
		return "\n  Loading jobs...\n"
	}
	if len(a.jobs) == 0 {
		return "\n  No jobs found. Type: ask <question> to submit one.\n"
	}

	var lines []string
	for i, job := range a.jobs {
		query := truncateText(job.Query, 64)

		if i == a.selectedIdx {
			line := selectedStyle.Render(fmt.Sprintf("▶ %s  %s", a.formatStatusPlain(job.Status), query))
			lines = append(lines, line)
		} else {
			line := jobItemStyle.Render(fmt.Sprintf("  %s  %s", a.formatStatus(job.Status), query))
			lines = append(lines, line)
		}
	}

	// Limit visible lines
	if len(lines) > height {
		start := a.selectedIdx - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	return strings.Join(lines, "\n")
}

func (a *App) renderJobDetail(height int) string {
	if a.currentJob == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	j := a.currentJob

	b.WriteString(fmt.Sprintf("\n  📋 %s\n", lipgloss.NewStyle().Bold(true).Render(truncateText(j.Query, 80))))
	b.WriteString(fmt.Sprintf("  ID: %s\n", shortID(j.ID)))
	b.WriteString(fmt.Sprintf("  Status: %s\n", a.formatStatus(j.Status)))
	b.WriteString(fmt.Sprintf("  Iterations: %d\n", j.Iterations))
	b.WriteString(fmt.Sprintf("  Created: %s\n", j.CreatedAt))
	b.WriteString(fmt.Sprintf("  Updated: %s\n", j.UpdatedAt))

	switch {
	case j.Error != "":
		b.WriteString("\n  ⚠ Error:\n")
		b.WriteString(indentBlock(j.Error, "    "))
	case j.Result != "":
		b.WriteString("\n  📝 Result:\n")
		b.WriteString(indentBlock(j.Result, "    "))
	case isActiveStatus(j.Status):
		b.WriteString("\n  " + helpStyle.Render("Working... the view refreshes automatically.") + "\n")
	}

	return b.String()
}

func (a *App) formatStatus(status string) string {
	switch status {
	case "pending":
		return lipgloss.NewStyle().Foreground(warningColor).Render("○ PENDING")
	case "running":
		return lipgloss.NewStyle().Foreground(primaryColor).Render("◑ RUNNING")
	case "completed":
		return lipgloss.NewStyle().Foreground(successColor).Render("● DONE")
	case "failed":
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ FAILED")
	default:
		return status
	}
}

func (a *App) formatStatusPlain(status string) string {
	switch status {
	case "pending":
		return "○"
	case "running":
		return "◑"
	case "completed":
		return "●"
	case "failed":
		return "✗"
	default:
		return "?"
	}
}

func (a *App) fetchJobs() tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		jobs, err := a.client.ListJobs(a.filter)
		if err != nil {
			return errMsg{err}
		}
		return jobsLoadedMsg{jobs}
	}
}

func (a *App) fetchJobDetail(jobID string) tea.Cmd {
	return func() tea.Msg {
		job, err := a.client.GetJob(jobID)
		if err != nil {
			return errMsg{err}
		}
		return jobDetailLoadedMsg{job}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) deleteJob(jobID string) tea.Cmd {
	return func() tea.Msg {
		outcome, err := a.client.DeleteJob(jobID)
		if err != nil {
			return commandResultMsg{"Error: " + err.Error()}
		}
		return commandResultMsg{fmt.Sprintf("✓ Job %s: %s", shortID(jobID), outcome)}
	}
}

func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "ask":
		if len(args) < 1 {
			return resultCmd("Usage: ask <question>")
		}
		query := strings.Join(args, " ")
		return func() tea.Msg {
			id, err := a.client.SubmitQuery(query)
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Submitted job: %s", shortID(id))}
		}

	case "delete", "cancel":
		jobID := ""
		if len(args) > 0 {
			jobID = args[0]
		} else if a.mode == "list" && len(a.jobs) > 0 {
			jobID = a.jobs[a.selectedIdx].ID
		} else if a.currentJob != nil {
			jobID = a.currentJob.ID
		}
		if jobID == "" {
			return resultCmd("No job selected")
		}
		return a.deleteJob(jobID)

	case "refresh":
		return resultCmd("✓ Refreshed")

	case "q", "quit", "exit":
		return tea.Quit

	default:
		return resultCmd(fmt.Sprintf("Unknown: %s (try: ask, delete, refresh, quit)", cmd))
	}
}

func resultCmd(message string) tea.Cmd {
	return func() tea.Msg {
		return commandResultMsg{message}
	}
}

func hasActiveJobs(jobs []JobItem) bool {
	for _, j := range jobs {
		if isActiveStatus(j.Status) {
			return true
		}
	}
	return false
}

func isActiveStatus(status string) bool {
	return status == "pending" || status == "running"
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func indentBlock(s, prefix string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		b.WriteString(prefix + line + "\n")
	}
	return b.String()
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type jobsLoadedMsg struct {
	jobs []JobItem
}

type jobDetailLoadedMsg struct {
	job *JobDetail
}

type daemonStatusMsg struct {
	online bool
}

type tickMsg time.Time

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
