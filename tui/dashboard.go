package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/UrielAhumada/iot-frontend/panel"
	"github.com/UrielAhumada/iot-frontend/projector"
)

const maxNotices = 5

// Source is what the dashboard reads from a running panel.
type Source interface {
	Role() string
	Snapshot() projector.LastSeen
	Subscribe(fn func(projector.Change)) func()
	OnNotice(fn func(panel.Notice)) func()
}

type Dashboard struct {
	src Source
	app *tview.Application

	header  *tview.TextView
	kpis    *tview.TextView
	rate    *tview.TextView
	feed    *tview.TextView
	notices *tview.TextView
	flex    *tview.Flex

	// redraw is signalled by writers and drained by the pump; it never blocks them
	redraw chan struct{}

	mu      sync.Mutex
	latest  projector.LastSeen
	recent  []string
	quit    context.CancelFunc
	started bool
}

func NewDashboard(src Source) *Dashboard {
	d := &Dashboard{
		src:    src,
		app:    tview.NewApplication(),
		redraw: make(chan struct{}, 1),
		latest: src.Snapshot(),
	}
	d.setupUI()
	return d
}

// SetScreen replaces the terminal screen, for tests and embedding.
func (d *Dashboard) SetScreen(screen tcell.Screen) {
	d.app.SetScreen(screen)
}

func (d *Dashboard) setupUI() {
	d.header = tview.NewTextView().SetDynamicColors(true)

	d.kpis = tview.NewTextView().SetDynamicColors(true).SetTextColor(ColorText)
	d.kpis.SetBorder(true).SetTitle(" Last seen ").SetBorderColor(ColorBorder).SetTitleColor(ColorAccent)

	d.rate = tview.NewTextView().SetDynamicColors(true)
	d.rate.SetBorder(true).SetTitle(" Events per interval ").SetBorderColor(ColorBorder).SetTitleColor(ColorAccent)

	d.feed = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	d.feed.SetBorder(true).SetTitle(" Live feed ").SetBorderColor(ColorBorder).SetTitleColor(ColorAccent)

	d.notices = tview.NewTextView().SetDynamicColors(true)
	d.notices.SetBorder(true).SetTitle(" Notices ").SetBorderColor(ColorBorder).SetTitleColor(ColorAccent)

	top := tview.NewFlex().
		AddItem(d.kpis, 0, 1, false).
		AddItem(d.rate, 0, 1, false)

	d.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.header, 1, 0, false).
		AddItem(top, 7, 0, false).
		AddItem(d.feed, 0, 1, true).
		AddItem(d.notices, maxNotices+2, 0, false)

	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyCtrlC, event.Rune() == 'q', event.Rune() == 'Q':
			d.mu.Lock()
			quit := d.quit
			d.mu.Unlock()
			if quit != nil {
				quit()
			}
			return nil
		}
		return event
	})
	d.render(d.latest)
}

// render writes snap into the widgets. Callers on other goroutines go
// through QueueUpdateDraw.
func (d *Dashboard) render(snap projector.LastSeen) {
	d.header.SetText(fmt.Sprintf(" [::b]%s panel[::-]  %s  [gray](q to quit)[-]",
		strings.ToUpper(d.src.Role()), ConnectionIndicator(snap.Connection)))
	d.kpis.SetText(KPIs(snap))
	d.rate.SetText(fmt.Sprintf("\n %s", Sparkline(snap.Rate)))

	lines := make([]string, 0, len(snap.Feed))
	for _, e := range snap.Feed {
		lines = append(lines, FeedLine(e))
	}
	d.feed.SetText(strings.Join(lines, "\n"))
	d.feed.ScrollToBeginning()

	d.mu.Lock()
	d.notices.SetText(strings.Join(d.recent, "\n"))
	d.mu.Unlock()
}

func (d *Dashboard) addNotice(n panel.Notice) {
	d.mu.Lock()
	d.recent = append([]string{NoticeLine(n)}, d.recent...)
	if len(d.recent) > maxNotices {
		d.recent = d.recent[:maxNotices]
	}
	d.mu.Unlock()
	d.signal()
}

func (d *Dashboard) onChange(c projector.Change) {
	d.mu.Lock()
	d.latest = c.Snapshot
	d.mu.Unlock()
	d.signal()
}

func (d *Dashboard) signal() {
	select {
	case d.redraw <- struct{}{}:
	default:
	}
}

// pump redraws the latest snapshot until ctx ends. It is the only caller of
// QueueUpdateDraw and runs only while the event loop is alive.
func (d *Dashboard) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.redraw:
			d.mu.Lock()
			snap := d.latest
			d.mu.Unlock()
			d.app.QueueUpdateDraw(func() { d.render(snap) })
		}
	}
}

// Run draws the dashboard until the user quits or ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("dashboard already running")
	}
	d.started = true
	d.quit = cancel
	d.mu.Unlock()

	unsubscribe := d.src.Subscribe(d.onChange)
	defer unsubscribe()
	stopNotices := d.src.OnNotice(d.addNotice)
	defer stopNotices()

	// The pump starts from the first draw, so it never queues into a loop
	// that failed to start, and it stops the loop only after it has exited.
	pumpDone := make(chan struct{})
	var startPump sync.Once
	d.app.SetAfterDrawFunc(func(tcell.Screen) {
		startPump.Do(func() {
			go func() {
				defer close(pumpDone)
				d.pump(ctx)
				d.app.Stop()
			}()
		})
	})

	err := d.app.SetRoot(d.flex, true).SetFocus(d.feed).Run()
	cancel()
	startPump.Do(func() { close(pumpDone) })
	<-pumpDone
	return err
}
