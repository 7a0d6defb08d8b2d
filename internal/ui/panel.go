package ui

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/idilsaglam/todosync/internal/model"
)

var ansiRegexp = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string { return ansiRegexp.ReplaceAllString(s, "") }

// visibleWidth is the terminal cell width; wide runes count twice.
func visibleWidth(s string) int { return runewidth.StringWidth(stripANSI(s)) }

// ProgressBar renders a Unicode progress bar with percentage.
func ProgressBar(done, total, width int) string {
	if total <= 0 {
		total = 1
	}
	if width < 5 {
		width = 5
	}
	filled := int(float64(done) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	pct := int(float64(done) / float64(total) * 100)
	return fmt.Sprintf("%s %3d%%", bar, pct)
}

// Panel draws a framed box using the current theme.
func Panel(w io.Writer, lines []string) {
	t := Current()
	maxw := 0
	for _, ln := range lines {
		if vw := visibleWidth(ln); vw > maxw {
			maxw = vw
		}
	}
	pad := func(s string) string {
		if vis := visibleWidth(s); vis < maxw {
			s += strings.Repeat(" ", maxw-vis)
		}
		return s
	}
	fmt.Fprintln(w, t.CornerTL+strings.Repeat(t.H, maxw+2)+t.CornerTR)
	for _, ln := range lines {
		fmt.Fprintln(w, t.V+" "+pad(ln)+" "+t.V)
	}
	fmt.Fprintln(w, t.CornerBL+strings.Repeat(t.H, maxw+2)+t.CornerBR)
}

// Stats counts finished and open items.
func Stats(todos []model.Todo) (done, pending int) {
	for _, td := range todos {
		if td.IsFinished {
			done++
		} else {
			pending++
		}
	}
	return
}

// Header is the counts line shown above a list.
func Header(todos []model.Todo) string {
	d, p := Stats(todos)
	t := Current()
	return fmt.Sprintf("%s  %s %d  %s %d  %s %d",
		C(t.Title, "Todos"),
		C(t.Success, t.SymDone), d,
		C(t.Pending, t.SymUnchecked), p,
		C(t.Accent, "Total"), len(todos),
	)
}

// TodoLine renders one item: id, checkbox, description, finish time.
func TodoLine(td model.Todo) string {
	t := Current()
	box, color := t.BoxUnchecked, t.Muted
	if td.IsFinished {
		box, color = t.BoxChecked, t.Success
	}
	title := strings.TrimSpace(strings.ReplaceAll(td.Description, "\n", " "))
	if title == "" {
		title = "(untitled)"
	}
	title = runewidth.Truncate(title, 80, "...")
	line := fmt.Sprintf("%s %s %s", Dim(fmt.Sprintf("#%-4s", td.ID)), C(color, box), title)
	if td.FinishedAt != nil {
		line += " " + C(t.Muted, td.FinishedAt.Local().Format("2006-01-02 15:04"))
	}
	return line
}

// TodoLines renders items in order.
func TodoLines(todos []model.Todo) []string {
	if len(todos) == 0 {
		return []string{C(Current().Muted, "no items")}
	}
	out := make([]string, 0, len(todos))
	for _, td := range todos {
		out = append(out, TodoLine(td))
	}
	return out
}

// GroupLines renders pending items, then finished ones.
func GroupLines(todos []model.Todo) []string {
	var pend, done []model.Todo
	for _, td := range todos {
		if td.IsFinished {
			done = append(done, td)
		} else {
			pend = append(pend, td)
		}
	}
	section := func(name string, items []model.Todo) []string {
		lines := []string{C(Current().Accent, name)}
		if len(items) == 0 {
			return append(lines, C(Current().Muted, "(none)"))
		}
		return append(lines, TodoLines(items)...)
	}
	lines := section("Pending", pend)
	lines = append(lines, "")
	return append(lines, section("Done", done)...)
}

// ListPanel renders the full `ls` view.
func ListPanel(w io.Writer, todos []model.Todo, group bool) {
	d, p := Stats(todos)
	lines := []string{
		Header(todos),
		C(Current().Muted, ProgressBar(d, d+p, 28)),
		"",
	}
	if group {
		lines = append(lines, GroupLines(todos)...)
	} else {
		lines = append(lines, TodoLines(todos)...)
	}
	lines = append(lines, "", C(Current().Muted, "Tip: toggle with `todosync check <id>` or `todosync tui`"))
	Panel(w, lines)
}
