package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/UrielAhumada/iot-frontend/client"
	"github.com/UrielAhumada/iot-frontend/dispatch"
	"github.com/UrielAhumada/iot-frontend/panel"
	"github.com/UrielAhumada/iot-frontend/projector"
	"github.com/UrielAhumada/iot-frontend/proto"
)

func TestSparkline(t *testing.T) {
	assert.Equal(t, "▁▁▁", Sparkline([]int{0, 0, 0}))
	assert.Equal(t, "▁▄█", Sparkline([]int{0, 4, 8}))
	assert.Equal(t, "█▁▁", Sparkline([]int{1, 0, 0}))
	assert.Empty(t, Sparkline(nil))
}

func TestConnectionIndicator(t *testing.T) {
	assert.Contains(t, ConnectionIndicator(client.StateConnected), "connected")
	assert.Contains(t, ConnectionIndicator(client.StateConnecting), "connecting")
	assert.Contains(t, ConnectionIndicator(client.StateDisconnected), "disconnected")
}

func TestKPIs(t *testing.T) {
	out := KPIs(projector.LastSeen{})
	assert.Contains(t, out, "Last command:[-]  -")
	assert.NotContains(t, out, "Last action")

	out = KPIs(projector.LastSeen{
		LastCommandCode: "3",
		TotalEvents:     12,
		LastAction:      &projector.ActionSummary{Action: dispatch.ActionDemo, Outcome: "http_error"},
	})
	assert.Contains(t, out, "Last command:[-]  3")
	assert.Contains(t, out, "Total events:[-]  12")
	assert.Contains(t, out, "[red]demo http_error[-]")
}

func TestFeedLineEscapesDetail(t *testing.T) {
	at := time.Date(2024, 1, 1, 9, 30, 5, 0, time.UTC)
	line := FeedLine(projector.FeedEntry{Type: "raw", Source: proto.SourcePush, Detail: "[red]boom", At: at})
	assert.Contains(t, line, "09:30:05")
	assert.Contains(t, line, "(push)")
	assert.Contains(t, line, "[red[]boom")
}

func TestNoticeLine(t *testing.T) {
	line := NoticeLine(panel.Notice{Level: panel.NoticeDanger, Message: "DEMO failed"})
	assert.Contains(t, line, "[red]DEMO failed[-]")
}
