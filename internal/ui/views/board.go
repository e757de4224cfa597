package views

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/lazyclaw/lazyops/internal/ui/styles"
)

// BoardView renders opportunities as status columns
type BoardView struct {
	width   int
	height  int
	columns [][]models.Opportunity
	pending map[string]bool
	col     int
	row     int
}

// NewBoardView creates an empty board
func NewBoardView() *BoardView {
	return &BoardView{
		columns: make([][]models.Opportunity, len(models.OpportunityStatuses)),
		pending: map[string]bool{},
	}
}

// SetSize sets the view dimensions
func (v *BoardView) SetSize(width, height int) {
	v.width = width
	v.height = height
}

// SetOpportunities regroups the board. Cards listed in pending are drawn
// as unconfirmed. The cursor follows the selected card if it moved.
func (v *BoardView) SetOpportunities(opps []models.Opportunity, pending map[string]bool) {
	selected, hadSelection := v.Selected()

	columns := make([][]models.Opportunity, len(models.OpportunityStatuses))
	for _, o := range opps {
		i := columnIndex(o.Status)
		if i < 0 {
			continue
		}
		columns[i] = append(columns[i], o)
	}
	for _, c := range columns {
		sort.SliceStable(c, func(a, b int) bool {
			if c[a].Title != c[b].Title {
				return c[a].Title < c[b].Title
			}
			return c[a].ID < c[b].ID
		})
	}
	v.columns = columns
	if pending == nil {
		pending = map[string]bool{}
	}
	v.pending = pending

	if hadSelection {
		for ci, c := range columns {
			for ri, o := range c {
				if o.ID == selected.ID {
					v.col, v.row = ci, ri
					return
				}
			}
		}
	}
	v.clampRow()
}

// Count returns the number of cards on the board
func (v *BoardView) Count() int {
	n := 0
	for _, c := range v.columns {
		n += len(c)
	}
	return n
}

// Cursor returns the focused column and row
func (v *BoardView) Cursor() (int, int) {
	return v.col, v.row
}

// SetColumn focuses column i
func (v *BoardView) SetColumn(i int) {
	if i < 0 || i >= len(v.columns) {
		return
	}
	v.col = i
	v.clampRow()
}

// Left moves the cursor one column left
func (v *BoardView) Left() { v.SetColumn(v.col - 1) }

// Right moves the cursor one column right
func (v *BoardView) Right() { v.SetColumn(v.col + 1) }

// Up moves the cursor up a card
func (v *BoardView) Up() {
	if v.row > 0 {
		v.row--
	}
}

// Down moves the cursor down a card
func (v *BoardView) Down() {
	if v.row < len(v.columns[v.col])-1 {
		v.row++
	}
}

// Selected returns the card under the cursor
func (v *BoardView) Selected() (models.Opportunity, bool) {
	if v.col < 0 || v.col >= len(v.columns) {
		return models.Opportunity{}, false
	}
	c := v.columns[v.col]
	if v.row < 0 || v.row >= len(c) {
		return models.Opportunity{}, false
	}
	return c[v.row], true
}

func (v *BoardView) clampRow() {
	n := len(v.columns[v.col])
	if v.row >= n {
		v.row = n - 1
	}
	if v.row < 0 {
		v.row = 0
	}
}

func columnIndex(s models.OpportunityStatus) int {
	for i, known := range models.OpportunityStatuses {
		if s == known {
			return i
		}
	}
	return -1
}

// View renders the board
func (v *BoardView) View() string {
	n := len(models.OpportunityStatuses)
	colWidth := 18
	if v.width > 0 {
		colWidth = v.width/n - 4
	}
	if colWidth < 10 {
		colWidth = 10
	}

	rendered := make([]string, 0, n)
	for ci, status := range models.OpportunityStatuses {
		cards := v.columns[ci]
		lines := []string{styles.ColumnTitle.Render(fmt.Sprintf("%s (%d)", status, len(cards)))}
		for ri, o := range cards {
			text := truncate(o.Title, colWidth)
			switch {
			case ci == v.col && ri == v.row:
				text = styles.CardSelected.Render(text)
			case v.pending[o.ID]:
				text = styles.CardPending.Render(text)
			}
			lines = append(lines, text)
			if o.Company != "" {
				lines = append(lines, styles.Muted.Render(truncate(o.Company, colWidth)))
			}
		}
		style := styles.Column
		if ci == v.col {
			style = styles.ColumnFocused
		}
		rendered = append(rendered, style.Width(colWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}
