package tui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// MQTTTab shows the connection status of every configured MQTT ingest
// source.
type MQTTTab struct {
	app   *App
	flex  *tview.Flex
	table *tview.Table
}

// NewMQTTTab creates a new MQTT status tab.
func NewMQTTTab(app *App) *MQTTTab {
	t := &MQTTTab{app: app}
	t.setupUI()
	t.Refresh()
	return t
}

func (t *MQTTTab) setupUI() {
	t.table = tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)

	headers := []string{"Name", "Broker", "Port", "TLS", "Topic", "Status"}
	for i, h := range headers {
		t.table.SetCell(0, i, tview.NewTableCell(h).
			SetTextColor(ColorAccent).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}

	box := tview.NewFlex().SetDirection(tview.FlexRow)
	box.SetBorder(true).SetTitle(" MQTT Sources ")
	box.AddItem(t.table, 0, 1, true)

	t.flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(box, 0, 1, true)
}

// Refresh repopulates the table from the app's configured sources.
func (t *MQTTTab) Refresh() {
	for row := t.table.GetRowCount() - 1; row > 0; row-- {
		t.table.RemoveRow(row)
	}

	for _, src := range t.app.sources {
		cfg := src.Config()
		row := t.table.GetRowCount()

		status := StatusIndicatorDisconnected + " disconnected"
		if src.IsRunning() {
			status = StatusIndicatorConnected + " connected"
		}

		tls := "no"
		if cfg.UseTLS {
			tls = "yes"
		}

		t.table.SetCell(row, 0, tview.NewTableCell(cfg.Name))
		t.table.SetCell(row, 1, tview.NewTableCell(cfg.Broker))
		t.table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%d", cfg.Port)))
		t.table.SetCell(row, 3, tview.NewTableCell(tls))
		t.table.SetCell(row, 4, tview.NewTableCell(cfg.Topic))
		t.table.SetCell(row, 5, tview.NewTableCell(status).SetExpansion(1))
	}
}

// GetPrimitive returns the tab's root primitive.
func (t *MQTTTab) GetPrimitive() tview.Primitive { return t.flex }

// GetFocusable returns the primitive that should receive focus.
func (t *MQTTTab) GetFocusable() tview.Primitive { return t.table }
