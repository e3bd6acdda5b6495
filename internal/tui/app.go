package tui

import (
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/foundryfieldworks/tagwire/internal/config"
	"github.com/foundryfieldworks/tagwire/internal/fanout/kafkasink"
	"github.com/foundryfieldworks/tagwire/internal/fanout/valkeysink"
	"github.com/foundryfieldworks/tagwire/internal/ingest/mqttsrc"
	"github.com/foundryfieldworks/tagwire/internal/webapi"
)

// App is the tagwire gateway's terminal dashboard.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	tabs      *tview.TextView
	statusBar *tview.TextView

	messagesTab *MessagesTab
	mqttTab     *MQTTTab
	kafkaTab    *KafkaTab
	valkeyTab   *ValkeyTab
	debugTab    *DebugTab

	cfg    *config.Config
	recent *webapi.RecentBuffer

	sources []*mqttsrc.Source
	sinks   []*kafkasink.Sink
	vsinks  []*valkeysink.Sink

	currentTab int
	tabNames   []string

	stopChan chan struct{}
}

// NewApp creates the dashboard application. recent feeds the Messages tab;
// sources/sinks/vsinks are the configured ingest and fanout transports
// whose connection status the status tabs poll.
func NewApp(cfg *config.Config, recent *webapi.RecentBuffer, sources []*mqttsrc.Source, sinks []*kafkasink.Sink, vsinks []*valkeysink.Sink) *App {
	a := &App{
		app:      tview.NewApplication(),
		cfg:      cfg,
		recent:   recent,
		sources:  sources,
		sinks:    sinks,
		vsinks:   vsinks,
		tabNames: []string{TabMessages, TabMQTT, TabKafka, TabValkey, TabDebug},
		stopChan: make(chan struct{}),
	}
	a.setupUI()
	return a
}

func (a *App) setupUI() {
	a.tabs = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	a.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft).
		SetTextColor(ColorText)

	a.pages = tview.NewPages()

	a.messagesTab = NewMessagesTab(a)
	a.mqttTab = NewMQTTTab(a)
	a.kafkaTab = NewKafkaTab(a)
	a.valkeyTab = NewValkeyTab(a)
	a.debugTab = NewDebugTab(a)

	a.pages.AddPage(TabMessages, a.messagesTab.GetPrimitive(), true, true)
	a.pages.AddPage(TabMQTT, a.mqttTab.GetPrimitive(), true, false)
	a.pages.AddPage(TabKafka, a.kafkaTab.GetPrimitive(), true, false)
	a.pages.AddPage(TabValkey, a.valkeyTab.GetPrimitive(), true, false)
	a.pages.AddPage(TabDebug, a.debugTab.GetPrimitive(), true, false)

	mainFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.tabs, 1, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetInputCapture(a.handleGlobalKeys)
	a.app.SetRoot(mainFlex, true)
	a.updateTabsDisplay()
	a.setStatus("Ready. Press ? for help.")
	a.focusCurrentTab()
}

func (a *App) handleGlobalKeys(event *tcell.EventKey) *tcell.EventKey {
	if event == nil {
		return nil
	}

	frontPage, _ := a.pages.GetFrontPage()
	isMainTab := frontPage == TabMessages || frontPage == TabMQTT || frontPage == TabKafka || frontPage == TabValkey || frontPage == TabDebug
	if !isMainTab {
		return event
	}

	if event.Rune() == 'Q' {
		a.Shutdown()
		return nil
	}

	if event.Key() == tcell.KeyBacktab {
		a.nextTab()
		return nil
	}

	if event.Rune() == '?' {
		a.showHelp()
		return nil
	}

	switch event.Rune() {
	case 'M':
		a.switchToTab(0)
		return nil
	case 'T':
		a.switchToTab(1)
		return nil
	case 'K':
		a.switchToTab(2)
		return nil
	case 'V':
		a.switchToTab(3)
		return nil
	case 'D':
		a.switchToTab(4)
		return nil
	}

	return event
}

func (a *App) nextTab() {
	a.currentTab = (a.currentTab + 1) % len(a.tabNames)
	a.switchToTab(a.currentTab)
}

func (a *App) switchToTab(index int) {
	a.currentTab = index
	a.pages.SwitchToPage(a.tabNames[index])
	a.updateTabsDisplay()
	a.focusCurrentTab()
}

func (a *App) focusCurrentTab() {
	switch a.currentTab {
	case 0:
		a.app.SetFocus(a.messagesTab.GetFocusable())
	case 1:
		a.app.SetFocus(a.mqttTab.GetFocusable())
	case 2:
		a.app.SetFocus(a.kafkaTab.GetFocusable())
	case 3:
		a.app.SetFocus(a.valkeyTab.GetFocusable())
	case 4:
		a.app.SetFocus(a.debugTab.GetFocusable())
	}
}

func (a *App) updateTabsDisplay() {
	text := ""
	for i, name := range a.tabNames {
		if i > 0 {
			text += "  │  "
		}
		if i == a.currentTab {
			text += "[black:yellow:b] " + name + " [-:-:-]"
		} else {
			text += "[gray]" + name + "[-]"
		}
	}
	a.tabs.SetText(text)
}

func (a *App) setStatus(msg string) {
	a.statusBar.SetText(" " + msg)
}

func (a *App) showHelp() {
	const pageName = "help"

	textView := tview.NewTextView().
		SetText(HelpText).
		SetDynamicColors(true)
	textView.SetBorder(true).SetTitle(" Help ")

	textView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyEnter || event.Rune() == '?' {
			a.pages.RemovePage(pageName)
			a.focusCurrentTab()
			return nil
		}
		return event
	})

	a.pages.AddPage(pageName, modalCentered(textView, 50, 20), true, true)
}

func modalCentered(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)
}

// Run starts the dashboard's event loop, refreshing status tabs
// periodically from the configured transports.
func (a *App) Run() error {
	a.messagesTab.Refresh()
	a.mqttTab.Refresh()
	a.kafkaTab.Refresh()
	a.valkeyTab.Refresh()

	go a.periodicRefresh()

	return a.app.Run()
}

func (a *App) periodicRefresh() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			a.app.QueueUpdateDraw(func() {
				a.debugTab.Refresh()
				switch a.currentTab {
				case 0:
					a.messagesTab.Refresh()
				case 1:
					a.mqttTab.Refresh()
				case 2:
					a.kafkaTab.Refresh()
				case 3:
					a.valkeyTab.Refresh()
				}
			})
		}
	}
}

// Shutdown stops the dashboard and its background refresh loop.
func (a *App) Shutdown() {
	select {
	case <-a.stopChan:
	default:
		close(a.stopChan)
	}
	a.app.Stop()
}

// Stop halts the dashboard application without touching transports.
func (a *App) Stop() {
	a.app.Stop()
}

// QueueUpdateDraw queues a function to run on the UI goroutine.
func (a *App) QueueUpdateDraw(f func()) {
	a.app.QueueUpdateDraw(f)
}
