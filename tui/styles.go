// Package tui renders a panel as a terminal dashboard.
package tui

import (
	"github.com/gdamore/tcell/v2"

	"github.com/UrielAhumada/iot-frontend/client"
	"github.com/UrielAhumada/iot-frontend/panel"
)

var (
	ColorBorder = tcell.ColorSteelBlue
	ColorAccent = tcell.ColorYellow
	ColorText   = tcell.ColorWhite
)

// Status indicator strings
const (
	StatusIndicatorConnected    = "[green]●[-]"
	StatusIndicatorDisconnected = "[gray]○[-]"
	StatusIndicatorConnecting   = "[yellow]◐[-]"
)

func ConnectionIndicator(s client.State) string {
	switch s {
	case client.StateConnected:
		return StatusIndicatorConnected + " connected"
	case client.StateConnecting:
		return StatusIndicatorConnecting + " connecting"
	default:
		return StatusIndicatorDisconnected + " disconnected"
	}
}

func noticeColor(l panel.NoticeLevel) string {
	switch l {
	case panel.NoticeSuccess:
		return "green"
	case panel.NoticeInfo:
		return "aqua"
	case panel.NoticeDanger:
		return "red"
	default:
		return "gray"
	}
}
