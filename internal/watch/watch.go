// Package watch renders a live terminal view of one job's batches.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/metrics"
	"github.com/jackzampolin/takeoff/internal/server/endpoints"
	"github.com/jackzampolin/takeoff/internal/store"
)

// Snapshot is one poll of a job.
type Snapshot struct {
	Job     *store.Job
	Usage   *metrics.Summary
	Batches []*store.Batch
}

// Fetcher loads the current state of a job.
type Fetcher func(ctx context.Context, jobID string) (*Snapshot, error)

// HTTPFetcher polls a takeoff server.
func HTTPFetcher(client *api.Client) Fetcher {
	return func(ctx context.Context, jobID string) (*Snapshot, error) {
		var job endpoints.GetJobResponse
		if err := client.Get(ctx, "/api/jobs/"+jobID, &job); err != nil {
			return nil, err
		}
		var batches endpoints.ListBatchesResponse
		if err := client.Get(ctx, "/api/jobs/"+jobID+"/batches", &batches); err != nil {
			return nil, err
		}
		return &Snapshot{Job: job.Job, Usage: job.Usage, Batches: batches.Batches}, nil
	}
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1)
	footerKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
)

type tickMsg time.Time
type snapshotMsg *Snapshot
type errMsg error

// Model is the bubbletea model for the watch view.
type Model struct {
	jobID    string
	fetch    Fetcher
	interval time.Duration
	// exitOnDone quits once the job is merged or failed.
	exitOnDone bool

	snap       *Snapshot
	err        error
	lastUpdate time.Time
	quitting   bool

	bar     progress.Model
	spin    spinner.Model
	batches table.Model
}

// NewModel creates a watch model for jobID.
func NewModel(jobID string, fetch Fetcher, interval time.Duration, exitOnDone bool) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: 4},
			{Title: "Pages", Width: 9},
			{Title: "Status", Width: 11},
			{Title: "Tries", Width: 5},
			{Title: "Model", Width: 28},
			{Title: "Tokens", Width: 8},
			{Title: "Cost", Width: 8},
			{Title: "Error", Width: 30},
		}),
		table.WithHeight(12),
		table.WithFocused(true),
	)
	return Model{
		jobID:      jobID,
		fetch:      fetch,
		interval:   interval,
		exitOnDone: exitOnDone,
		bar:        progress.New(progress.WithGradient("#00ffff", "#00ff00"), progress.WithWidth(40)),
		spin:       spinner.New(spinner.WithSpinner(spinner.Dot)),
		batches:    t,
	}
}

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.poll(), tick(m.interval))
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snap, err := m.fetch(ctx, m.jobID)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.poll()
		}
		var cmd tea.Cmd
		m.batches, cmd = m.batches.Update(msg)
		return m, cmd

	case tickMsg:
		return m, tea.Batch(m.poll(), tick(m.interval))

	case snapshotMsg:
		snap := (*Snapshot)(msg)
		m.snap = snap
		m.err = nil
		m.lastUpdate = time.Now()
		m.batches.SetRows(batchRows(snap.Batches))
		if m.exitOnDone && finished(snap.Job) {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// finished reports whether nothing more will happen to the job.
func finished(job *store.Job) bool {
	if job == nil {
		return false
	}
	return job.Status == store.JobFailed || job.FinalResult != nil
}

func batchRows(batches []*store.Batch) []table.Row {
	rows := make([]table.Row, 0, len(batches))
	for _, b := range batches {
		var model, tokens, cost string
		if b.Metrics != nil {
			model = b.Metrics.Model
			if b.Metrics.UsedFallback {
				model += " (fallback)"
			}
			tokens = fmt.Sprintf("%d", b.Metrics.TokensUsed)
			cost = fmt.Sprintf("$%.4f", b.Metrics.EstimatedCostUSD)
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", b.BatchIndex),
			fmt.Sprintf("%d-%d", b.PageStart, b.PageEnd),
			string(b.Status),
			fmt.Sprintf("%d", b.RetryCount),
			model,
			tokens,
			cost,
			firstLine(b.ErrorMessage),
		})
	}
	return rows
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func statusBadge(st store.JobStatus) string {
	switch st {
	case store.JobComplete:
		return okStyle.Render("✓ " + string(st))
	case store.JobFailed:
		return errStyle.Render("✗ " + string(st))
	case store.JobPartial:
		return warnStyle.Render("◐ " + string(st))
	default:
		return labelStyle.Render(string(st))
	}
}

// View renders the model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("takeoff watch " + m.jobID))
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errStyle.Render("✗ " + m.err.Error()))
		b.WriteString("\n")
	case m.snap == nil || m.snap.Job == nil:
		b.WriteString(m.spin.View() + " loading...\n")
	default:
		b.WriteString(m.renderJob())
	}

	footer := footerKeyStyle.Render("[q]") + " quit  " +
		footerKeyStyle.Render("[r]") + " refresh  " +
		footerKeyStyle.Render("[↑/↓]") + " scroll"
	if !m.lastUpdate.IsZero() {
		footer += dimStyle.Render("  updated " + m.lastUpdate.Format("15:04:05"))
	}
	b.WriteString(footerStyle.Render(footer))
	return b.String()
}

func (m Model) renderJob() string {
	job := m.snap.Job
	var b strings.Builder

	line := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-10s", label)))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	line("Document", job.DocumentRef)
	pagesNote := ""
	if job.PageCountEstimated {
		pagesNote = " (estimated)"
	}
	line("Pages", fmt.Sprintf("%d-%d of %d%s", job.PageStart, job.PageEnd, job.TotalPages, pagesNote))

	status := statusBadge(job.Status)
	if !finished(job) && job.Status != store.JobComplete {
		status = m.spin.View() + " " + status
	}
	b.WriteString(labelStyle.Render(fmt.Sprintf("%-10s", "Status")) + status + "\n")

	b.WriteString(m.bar.ViewAs(float64(job.ProgressPercent) / 100))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %d/%d completed, %d failed", job.CompletedBatches, job.TotalBatches, job.FailedBatches)))
	b.WriteString("\n")

	if u := m.snap.Usage; u != nil {
		b.WriteString(dimStyle.Render(fmt.Sprintf("tokens %d  cost $%.4f  p95 %.0fms  fallbacks %d",
			u.TotalTokens, u.TotalCostUSD, u.LatencyP95, u.UsedFallback)))
		b.WriteString("\n")
	}
	if job.FinalResult != nil {
		c := job.FinalResult.Coverage
		b.WriteString(okStyle.Render(fmt.Sprintf("merged %d items from %d/%d batches",
			len(job.FinalResult.Items), c.BatchesMerged, c.BatchesTotal)))
		b.WriteString("\n")
	}

	b.WriteString(containerStyle.Render(m.batches.View()))
	b.WriteString("\n")
	return b.String()
}

// Run opens the watch view and blocks until the user quits or, with
// exitOnDone, the job finishes.
func Run(ctx context.Context, jobID string, fetch Fetcher, interval time.Duration, exitOnDone bool) error {
	p := tea.NewProgram(NewModel(jobID, fetch, interval, exitOnDone), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
