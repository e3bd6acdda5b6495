// Package tui provides a terminal dashboard for the tagwire gateway: a
// live table of decoded messages and status panes for the ingest/fanout
// transports.
package tui

import "github.com/gdamore/tcell/v2"

// Color scheme
var (
	ColorPrimary    = tcell.ColorBlue
	ColorSecondary  = tcell.ColorGreen
	ColorAccent     = tcell.ColorYellow
	ColorError      = tcell.ColorRed
	ColorDisabled   = tcell.ColorGray
	ColorConnected  = tcell.ColorGreen
	ColorDisconnect = tcell.ColorGray
	ColorBackground = tcell.ColorDefault
	ColorText       = tcell.ColorWhite
	ColorSelected   = tcell.ColorBlue
)

// Status indicator strings
const (
	StatusIndicatorConnected    = "[green]●[-]"
	StatusIndicatorDisconnected = "[gray]○[-]"
	StatusIndicatorConnecting   = "[yellow]◐[-]"
	StatusIndicatorError        = "[red]●[-]"
)

// Tab labels
const (
	TabMessages = "Messages"
	TabMQTT     = "MQTT"
	TabValkey   = "Valkey"
	TabKafka    = "Kafka"
	TabDebug    = "Debug"
)

// Help text
const HelpText = `
 Keyboard Shortcuts
 ──────────────────────────────────────

 Navigation
   Shift+Tab    Switch tabs
   Tab          Move between fields
   Enter        Select / Activate
   Escape       Close dialog / Back
   ?            Show this help

 Messages Tab
   Shows the most recently decoded messages across every registered
   template, newest first, with their offset and decode status.

 MQTT / Valkey / Kafka Tabs
   Shows connection status for every configured source/sink; the Kafka
   tab also shows sent/error counters and the last send time.

 Application
   Q            Quit
`
