package tui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/UrielAhumada/iot-frontend/panel"
	"github.com/UrielAhumada/iot-frontend/projector"
)

var sparkBars = []rune("▁▂▃▄▅▆▇█")

// Sparkline draws one bar per bucket scaled to the largest bucket.
func Sparkline(rate []int) string {
	peak := 0
	for _, v := range rate {
		peak = max(peak, v)
	}
	var b strings.Builder
	for _, v := range rate {
		idx := 0
		if peak > 0 && v > 0 {
			idx = v * (len(sparkBars) - 1) / peak
		}
		b.WriteRune(sparkBars[idx])
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// KPIs renders the last seen codes, the event count and the last action.
func KPIs(snap projector.LastSeen) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]Last command:[-]  %s\n", tview.Escape(orDash(snap.LastCommandCode)))
	fmt.Fprintf(&b, "[yellow]Last obstacle:[-] %s\n", tview.Escape(orDash(snap.LastObstacleCode)))
	fmt.Fprintf(&b, "[yellow]Total events:[-]  %d\n", snap.TotalEvents)
	if a := snap.LastAction; a != nil {
		color := "green"
		if !a.OK {
			color = "red"
		}
		fmt.Fprintf(&b, "[yellow]Last action:[-]   [%s]%s %s[-]", color, a.Action, a.Outcome)
	}
	return b.String()
}

// FeedLine renders one feed entry.
func FeedLine(e projector.FeedEntry) string {
	source := ""
	if e.Source != "" {
		source = fmt.Sprintf(" [gray](%s)[-]", e.Source)
	}
	return fmt.Sprintf("[gray]%s[-] [aqua]%s[-]%s %s",
		e.At.Format("15:04:05"), tview.Escape(e.Type), source, tview.Escape(e.Detail))
}

func NoticeLine(n panel.Notice) string {
	return fmt.Sprintf("[gray]%s[-] [%s]%s[-]", n.At.Format("15:04:05"), noticeColor(n.Level), tview.Escape(n.Message))
}
