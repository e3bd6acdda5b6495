package tui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// ValkeyTab shows the connection status of every configured Valkey fanout
// sink.
type ValkeyTab struct {
	app   *App
	flex  *tview.Flex
	table *tview.Table
}

// NewValkeyTab creates a new Valkey status tab.
func NewValkeyTab(app *App) *ValkeyTab {
	t := &ValkeyTab{app: app}
	t.setupUI()
	t.Refresh()
	return t
}

func (t *ValkeyTab) setupUI() {
	t.table = tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)

	headers := []string{"Name", "Address", "DB", "TLS", "Status"}
	for i, h := range headers {
		t.table.SetCell(0, i, tview.NewTableCell(h).
			SetTextColor(ColorAccent).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}

	box := tview.NewFlex().SetDirection(tview.FlexRow)
	box.SetBorder(true).SetTitle(" Valkey Sinks ")
	box.AddItem(t.table, 0, 1, true)

	t.flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(box, 0, 1, true)
}

// Refresh repopulates the table from the app's configured sinks.
func (t *ValkeyTab) Refresh() {
	for row := t.table.GetRowCount() - 1; row > 0; row-- {
		t.table.RemoveRow(row)
	}

	for _, sink := range t.app.vsinks {
		cfg := sink.Config()
		row := t.table.GetRowCount()

		status := StatusIndicatorDisconnected + " disconnected"
		if sink.IsRunning() {
			status = StatusIndicatorConnected + " connected"
		}

		tls := "no"
		if cfg.UseTLS {
			tls = "yes"
		}

		t.table.SetCell(row, 0, tview.NewTableCell(cfg.Name))
		t.table.SetCell(row, 1, tview.NewTableCell(cfg.Address))
		t.table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%d", cfg.Database)))
		t.table.SetCell(row, 3, tview.NewTableCell(tls))
		t.table.SetCell(row, 4, tview.NewTableCell(status).SetExpansion(1))
	}
}

// GetPrimitive returns the tab's root primitive.
func (t *ValkeyTab) GetPrimitive() tview.Primitive { return t.flex }

// GetFocusable returns the primitive that should receive focus.
func (t *ValkeyTab) GetFocusable() tview.Primitive { return t.table }
