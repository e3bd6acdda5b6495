package tui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/foundryfieldworks/tagwire/internal/webapi"
)

// MessagesTab shows the most recently decoded messages, newest first.
type MessagesTab struct {
	app   *App
	flex  *tview.Flex
	table *tview.Table
}

// NewMessagesTab creates a new messages tab backed by recent.
func NewMessagesTab(app *App) *MessagesTab {
	t := &MessagesTab{app: app}
	t.setupUI()
	t.Refresh()
	return t
}

func (t *MessagesTab) setupUI() {
	t.table = tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)

	headers := []string{"Offset", "Type", "Status", "Time"}
	for i, h := range headers {
		t.table.SetCell(0, i, tview.NewTableCell(h).
			SetTextColor(ColorAccent).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}

	box := tview.NewFlex().SetDirection(tview.FlexRow)
	box.SetBorder(true).SetTitle(" Decoded Messages ")
	box.AddItem(t.table, 0, 1, true)

	t.flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(box, 0, 1, true)
}

// Refresh repopulates the table from the recent-message buffer.
func (t *MessagesTab) Refresh() {
	if t.app.recent == nil {
		return
	}

	entries := t.app.recent.Snapshot()
	for row := t.table.GetRowCount() - 1; row > 0; row-- {
		t.table.RemoveRow(row)
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		row := t.table.GetRowCount()

		status := "[green]ok[-]"
		if e.Err != "" {
			status = "[red]error[-]"
		}

		t.table.SetCell(row, 0, tview.NewTableCell(fmt.Sprintf("%d", e.Offset)))
		t.table.SetCell(row, 1, tview.NewTableCell(e.TypeName))
		t.table.SetCell(row, 2, tview.NewTableCell(status))
		t.table.SetCell(row, 3, tview.NewTableCell(e.Timestamp.Format("15:04:05.000")))
	}
}

// GetPrimitive returns the tab's root primitive.
func (t *MessagesTab) GetPrimitive() tview.Primitive { return t.flex }

// GetFocusable returns the primitive that should receive focus.
func (t *MessagesTab) GetFocusable() tview.Primitive { return t.table }

var _ = webapi.RecentEntry{} // documents the struct this tab renders
