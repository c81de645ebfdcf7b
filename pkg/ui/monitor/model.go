package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"mailroom/pkg/status"
)

const (
	defaultRefresh = time.Second
	defaultLimit   = 200
)

type recordsMsg struct {
	records []status.Record
	err     error
	at      time.Time
}

type refreshTickMsg struct{}

type model struct {
	ctx   context.Context
	fetch FetchFunc
	opts  Options
	now   func() time.Time

	theme   theme
	table   table.Model
	spinner spinner.Model

	records   []status.Record
	filter    status.State
	loading   bool
	lastErr   string
	updatedAt time.Time
	width     int
	height    int
}

func newModel(ctx context.Context, fetch FetchFunc, opts Options) *model {
	if opts.Refresh <= 0 {
		opts.Refresh = defaultRefresh
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("222"))

	tbl := table.New(
		table.WithColumns(columns(100)),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	tbl.SetStyles(tableStyles())

	return &model{
		ctx:     ctx,
		fetch:   fetch,
		opts:    opts,
		now:     time.Now,
		theme:   defaultTheme(),
		table:   tbl,
		spinner: spin,
		loading: true,
		width:   100,
		height:  24,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		case "f":
			m.filter = nextFilter(m.filter)
			m.loading = true
			return m, m.fetchCmd()
		case "r":
			m.loading = true
			return m, m.fetchCmd()
		}

	case recordsMsg:
		m.loading = false
		m.updatedAt = typed.at
		if typed.err != nil {
			m.lastErr = typed.err.Error()
		} else {
			m.lastErr = ""
			m.records = typed.records
			m.table.SetRows(m.rows())
		}
		return m, tickCmd(m.opts.Refresh)

	case refreshTickMsg:
		return m, m.fetchCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *model) View() string {
	title := "Mailroom Monitor"
	if m.opts.Source != "" {
		title += " · " + m.opts.Source
	}
	header := m.theme.header.Width(max(20, m.width-2)).Render(title)
	meta := m.theme.headerMeta.Render(m.summaryLine())
	line := m.theme.divider.Render(strings.Repeat("─", max(8, m.width-2)))

	footer := m.theme.status.Render("↑/↓ select · f filter · r refresh · q quit")
	switch {
	case m.lastErr != "":
		footer = m.theme.statusErr.Render("refresh failed: " + m.lastErr)
	case m.loading:
		footer = m.theme.statusBusy.Render(m.spinner.View() + " loading statuses...")
	}

	parts := []string{header, meta, line, m.theme.frame.Render(m.table.View())}
	if detail := m.selectedDetail(); detail != "" {
		parts = append(parts, m.theme.hint.Render(detail))
	}
	parts = append(parts, footer)

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) summaryLine() string {
	counts := make(map[status.State]int, len(status.States()))
	for _, record := range m.records {
		counts[record.Status]++
	}

	segments := make([]string, 0, len(status.States())+2)
	for _, state := range status.States() {
		style := m.theme.states[state]
		segments = append(segments, style.Render(fmt.Sprintf("%s:%d", state, counts[state])))
	}

	filter := "all"
	if m.filter != "" {
		filter = string(m.filter)
	}
	segments = append(segments, "filter:"+filter)
	if !m.updatedAt.IsZero() {
		segments = append(segments, "updated "+humanize.RelTime(m.updatedAt, m.now(), "ago", "from now"))
	}

	return strings.Join(segments, " · ")
}

func (m *model) rows() []table.Row {
	now := m.now()
	rows := make([]table.Row, 0, len(m.records))
	for _, record := range m.records {
		note := record.Summary
		if record.Status == status.Failed {
			note = record.Error
		}
		rows = append(rows, table.Row{
			record.ID,
			string(record.Status),
			record.Endpoint,
			record.Filename,
			humanize.RelTime(record.CreatedAt, now, "ago", "from now"),
			firstLine(note),
		})
	}

	return rows
}

func (m *model) selectedDetail() string {
	if len(m.records) == 0 {
		return ""
	}

	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(m.records) {
		return ""
	}

	record := m.records[cursor]
	detail := fmt.Sprintf("%s · created %s", record.ID, record.CreatedAt.Local().Format(time.DateTime))
	if record.ProcessedAt != nil {
		detail += fmt.Sprintf(" · took %s", record.ProcessedAt.Sub(record.CreatedAt).Round(time.Millisecond))
	}

	return detail
}

func (m *model) resize() {
	m.table.SetColumns(columns(m.width))
	m.table.SetHeight(max(5, m.height-9))
	m.table.SetWidth(max(40, m.width-2))
}

func (m *model) fetchCmd() tea.Cmd {
	ctx, fetch, now := m.ctx, m.fetch, m.now
	filter := status.Filter{Status: m.filter, Limit: m.opts.Limit}

	return func() tea.Msg {
		if fetch == nil {
			return recordsMsg{err: fmt.Errorf("no status source"), at: now()}
		}
		records, err := fetch(ctx, filter)
		return recordsMsg{records: records, err: err, at: now()}
	}
}

func tickCmd(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// columns splits width between the fixed columns and the summary.
func columns(width int) []table.Column {
	fixed := []table.Column{
		{Title: "ID", Width: 24},
		{Title: "Status", Width: 11},
		{Title: "Endpoint", Width: 12},
		{Title: "File", Width: 22},
		{Title: "Age", Width: 14},
	}

	used := 0
	for _, col := range fixed {
		used += col.Width + 2
	}

	return append(fixed, table.Column{Title: "Summary", Width: max(10, width-used-4)})
}

// nextFilter cycles all → pending → processing → completed → failed → all.
func nextFilter(current status.State) status.State {
	states := status.States()
	if current == "" {
		return states[0]
	}
	for i, state := range states {
		if state == current && i+1 < len(states) {
			return states[i+1]
		}
	}
	return ""
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return line
}
