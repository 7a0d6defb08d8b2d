// Package tui is the interactive checkbox list. Each toggle is synced to the
// todo service and the checkbox ends on the state the server acknowledged.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/idilsaglam/todosync/internal/model"
	"github.com/idilsaglam/todosync/internal/synchronizer"
)

// Syncer sets one item's completion and returns the acknowledged state.
type Syncer interface {
	SetTodoCompletion(ctx context.Context, todoID string, isFinished bool) (model.Todo, error)
}

// Loader fetches the items to show.
type Loader func(ctx context.Context) ([]model.Todo, error)

// listItem adapts a todo to bubbles/list.Item.
type listItem struct {
	todo      model.Todo
	checked   bool // what the box shows
	confirmed bool // last state the server acknowledged
	pending   bool
	seq       int // last toggle sent
	ackSeq    int // newest toggle the server acknowledged
}

func (i listItem) Title() string       { return i.todo.Description }
func (i listItem) Description() string { return "" }
func (i listItem) FilterValue() string { return i.todo.Description }

type loadedMsg struct {
	todos []model.Todo
	err   error
}

type toggledMsg struct {
	id   string
	seq  int
	todo model.Todo
	err  error
}

type notice struct {
	text  string
	isErr bool
}

// Model is the bubbletea model.
type Model struct {
	ctx  context.Context
	sync Syncer
	load Loader

	list     list.Model
	spinner  spinner.Model
	notice   *notice
	loading  bool
	inFlight int
	width    int
	height   int

	toggleKey  key.Binding
	dismissKey key.Binding
	reloadKey  key.Binding
}

// Custom delegate to control how items render (single line)
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, _ := item.(listItem)

	boxStyled := mutedStyle.Render(boxUnchecked)
	text := it.todo.Description
	if strings.TrimSpace(text) == "" {
		text = "(untitled)"
	}
	textStyled := text
	if it.checked {
		boxStyled = successStyle.Render(boxChecked)
		textStyled = doneStyle.Render(text)
	}
	line := fmt.Sprintf("%s %s", boxStyled, textStyled)
	if it.pending {
		line += " " + pendingStyle.Render(pendingMark)
	}
	line += " " + mutedStyle.Render("#"+it.todo.ID)

	prefix := "  "
	if index == m.Index() {
		prefix = selectedStyle.Render("> ")
	}
	fmt.Fprintln(w, prefix+line)
}

// New builds the model. load runs on Init and on reload.
func New(ctx context.Context, sync Syncer, load Loader) Model {
	l := list.New(nil, itemDelegate{}, 0, 0)
	l.Title = titleStyle.Render("Todos")
	l.SetShowHelp(true)
	l.SetShowPagination(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	l.Styles.HelpStyle = helpStyle
	l.Styles.PaginationStyle = helpStyle
	l.FilterInput.Prompt = "/ "
	l.SetStatusBarItemName("item", "items")

	m := Model{
		ctx:        ctx,
		sync:       sync,
		load:       load,
		list:       l,
		spinner:    spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(pendingStyle)),
		loading:    true,
		toggleKey:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle")),
		dismissKey: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "dismiss")),
		reloadKey:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	}
	extra := func() []key.Binding { return []key.Binding{m.toggleKey, m.dismissKey, m.reloadKey} }
	m.list.AdditionalShortHelpKeys = extra
	m.list.AdditionalFullHelpKeys = extra
	return m
}

// Run starts the program on the alternate screen until the user quits.
func Run(ctx context.Context, sync Syncer, load Loader) error {
	p := tea.NewProgram(New(ctx, sync, load), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd { return m.loadCmd() }

func (m Model) loadCmd() tea.Cmd {
	ctx, load := m.ctx, m.load
	return func() tea.Msg {
		todos, err := load(ctx)
		return loadedMsg{todos: todos, err: err}
	}
}

func (m Model) toggleCmd(id string, checked bool, seq int) tea.Cmd {
	ctx, s := m.ctx, m.sync
	return func() tea.Msg {
		todo, err := s.SetTodoCompletion(ctx, id, checked)
		return toggledMsg{id: id, seq: seq, todo: todo, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case loadedMsg:
		m.loading = false
		if msg.err != nil {
			m.notice = &notice{text: "load failed: " + msg.err.Error(), isErr: true}
			return m, nil
		}
		cmd := m.setTodos(msg.todos)
		return m, cmd

	case toggledMsg:
		m.inFlight--
		return m.reconcile(msg)

	case spinner.TickMsg:
		if m.inFlight == 0 {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "esc":
			if m.list.FilterState() == list.Unfiltered {
				return m, tea.Quit
			}
		case " ":
			return m.toggleSelected()
		case "x":
			m.notice = nil
			m.resize()
			return m, nil
		case "r":
			m.loading = true
			return m, m.loadCmd()
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// toggleSelected flips the box right away and starts the sync.
func (m Model) toggleSelected() (tea.Model, tea.Cmd) {
	sel, ok := m.list.SelectedItem().(listItem)
	if !ok {
		return m, nil
	}
	// The visible copy lags behind Items while a filter is applied.
	idx := m.indexOf(sel.todo.ID)
	if idx < 0 {
		return m, nil
	}
	it := m.list.Items()[idx].(listItem)
	it.checked = !it.checked
	it.pending = true
	it.seq++

	m.inFlight++
	cmds := []tea.Cmd{
		m.list.SetItem(idx, it),
		m.toggleCmd(it.todo.ID, it.checked, it.seq),
	}
	if m.inFlight == 1 {
		cmds = append(cmds, m.spinner.Tick)
	}
	return m, tea.Batch(cmds...)
}

// reconcile applies a sync result. Any acknowledgement newer than the last
// one updates the confirmed state; only the newest toggle clears pending and
// reports failures.
func (m Model) reconcile(msg toggledMsg) (tea.Model, tea.Cmd) {
	idx := m.indexOf(msg.id)
	if idx < 0 {
		return m, nil
	}
	it := m.list.Items()[idx].(listItem)
	newest := msg.seq == it.seq

	acked := msg.err == nil && msg.seq > it.ackSeq
	if acked {
		if msg.todo.ID == "" {
			msg.todo.ID = it.todo.ID
		}
		it.todo = msg.todo
		it.confirmed = msg.todo.IsFinished
		it.ackSeq = msg.seq
	}
	if newest {
		it.pending = false
	}
	if !it.pending {
		it.checked = it.confirmed
	}
	if !newest && !acked {
		return m, nil
	}

	cmds := []tea.Cmd{m.list.SetItem(idx, it)}
	switch {
	case newest && msg.err != nil:
		m.notice = &notice{text: describe(msg.err), isErr: true}
		m.resize()
	case newest:
		state := "open"
		if it.confirmed {
			state = "done"
		}
		cmds = append(cmds, m.list.NewStatusMessage(successStyle.Render(fmt.Sprintf("#%s %s", it.todo.ID, state))))
	}
	return m, tea.Batch(cmds...)
}

// setTodos replaces the items, keeping in-flight toggles pending.
func (m *Model) setTodos(todos []model.Todo) tea.Cmd {
	prev := map[string]listItem{}
	for _, li := range m.list.Items() {
		if it, ok := li.(listItem); ok {
			prev[it.todo.ID] = it
		}
	}
	items := make([]list.Item, 0, len(todos))
	for _, td := range todos {
		it := listItem{todo: td, checked: td.IsFinished, confirmed: td.IsFinished}
		if old, ok := prev[td.ID]; ok {
			it.seq, it.ackSeq = old.seq, old.ackSeq
			if old.pending {
				it.checked, it.pending = old.checked, true
			}
		}
		items = append(items, it)
	}
	m.list.Title = header(todos)
	return m.list.SetItems(items)
}

func (m Model) indexOf(id string) int {
	for i, li := range m.list.Items() {
		if it, ok := li.(listItem); ok && it.todo.ID == id {
			return i
		}
	}
	return -1
}

func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	h := m.height - 4
	if m.notice != nil {
		h -= 3
	}
	if h < 3 {
		h = 3
	}
	m.list.SetSize(m.width-4, h)
}

func (m Model) View() string {
	content := m.list.View()
	if m.loading && len(m.list.Items()) == 0 {
		content = mutedStyle.Render("loading…")
	}
	if m.inFlight > 0 {
		content += "\n" + m.spinner.View() + " " + pendingStyle.Render(fmt.Sprintf("syncing %d", m.inFlight))
	}
	if m.notice != nil {
		text := m.notice.text
		if m.notice.isErr {
			text = errorStyle.Render("✖ ") + text
		}
		content += "\n" + noticeStyle.Render(text+"  "+helpStyle.Render("(x to dismiss)"))
	}
	return frameStyle.Render(content)
}

// describe turns a sync error into the notification text.
func describe(err error) string {
	var fe *synchronizer.FetchError
	var we *synchronizer.WriteError
	switch {
	case errors.Is(err, synchronizer.ErrConflict):
		var id string
		if errors.As(err, &we) {
			id = we.ID
		}
		return fmt.Sprintf("#%s changed on the server; press r to reload", id)
	case errors.As(err, &fe):
		return fmt.Sprintf("could not read #%s: %v", fe.ID, fe.Err)
	case errors.As(err, &we):
		return fmt.Sprintf("could not save #%s: %v", we.ID, we.Err)
	}
	return err.Error()
}

func header(todos []model.Todo) string {
	done := 0
	for _, td := range todos {
		if td.IsFinished {
			done++
		}
	}
	return fmt.Sprintf("%s   %s %d  %s %d  %s %d",
		titleStyle.Render("Todos"),
		successStyle.Render("✔"), done,
		pendingStyle.Render("•"), len(todos)-done,
		accentStyle.Render("Total"), len(todos),
	)
}
