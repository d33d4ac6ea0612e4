package panel

import "time"

// NoticeLevel is the severity of a transient user-facing message.
type NoticeLevel string

const (
	NoticeSuccess   NoticeLevel = "success"
	NoticeInfo      NoticeLevel = "info"
	NoticeSecondary NoticeLevel = "secondary"
	NoticeDanger    NoticeLevel = "danger"
)

type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// OnNotice registers fn for every subsequent notice and returns its cancel func.
func (p *Panel) OnNotice(fn func(Notice)) func() {
	p.nmu.Lock()
	p.noticeID++
	id := p.noticeID
	p.noticeSubs[id] = fn
	p.nmu.Unlock()

	return func() {
		p.nmu.Lock()
		delete(p.noticeSubs, id)
		p.nmu.Unlock()
	}
}

func (p *Panel) notify(level NoticeLevel, msg string) {
	n := Notice{Level: level, Message: msg, At: time.Now()}
	p.logger.Info().Str("level", string(level)).Msg(msg)

	p.nmu.Lock()
	subs := make([]func(Notice), 0, len(p.noticeSubs))
	for _, fn := range p.noticeSubs {
		subs = append(subs, fn)
	}
	p.nmu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
}
