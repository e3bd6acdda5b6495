package tui

import (
	"fmt"

	"github.com/rivo/tview"
)

// DebugTab shows a scrolling view of recent log messages from every
// component, backed by the global LogStore.
type DebugTab struct {
	app  *App
	flex *tview.Flex
	view *tview.TextView
}

// NewDebugTab creates a new debug scrollback tab.
func NewDebugTab(app *App) *DebugTab {
	t := &DebugTab{app: app}
	t.setupUI()
	t.Refresh()
	return t
}

func (t *DebugTab) setupUI() {
	t.view = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(2000)
	t.view.SetChangedFunc(func() {
		t.app.QueueUpdateDraw(func() {})
	})

	box := tview.NewFlex().SetDirection(tview.FlexRow)
	box.SetBorder(true).SetTitle(" Debug Log ")
	box.AddItem(t.view, 0, 1, true)

	t.flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(box, 0, 1, true)
}

// Refresh repopulates the scrollback from the global log store.
func (t *DebugTab) Refresh() {
	store := GetLogStore()
	if store == nil {
		return
	}

	t.view.Clear()
	for _, msg := range store.Messages() {
		component := msg.Component
		if component == "" {
			component = "-"
		}
		fmt.Fprintf(t.view, "[gray]%s[-] [yellow]%-12s[-] %s\n",
			msg.Timestamp.Format("15:04:05.000"), component, tview.Escape(msg.Message))
	}
	t.view.ScrollToEnd()
}

// GetPrimitive returns the tab's root primitive.
func (t *DebugTab) GetPrimitive() tview.Primitive { return t.flex }

// GetFocusable returns the primitive that should receive focus.
func (t *DebugTab) GetFocusable() tview.Primitive { return t.view }
