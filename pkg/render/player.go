// Package render plays assistant messages back as a typing animation: one
// partial frame per visible character, then the verbatim content exactly once.
package render

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/chatstore"
	"github.com/go-go-golems/voxchat/pkg/scheduler"
)

const (
	DefaultJitter = 10 * time.Millisecond

	ReplyDelay   = 25 * time.Millisecond
	ErrorDelay   = 30 * time.Millisecond
	InboundDelay = 20 * time.Millisecond
)

// Frame is one render step. Text is the revealed prefix of the plain text
// without markdown markers, or the whole content when Final is set.
type Frame struct {
	ConversationID string
	MessageID      string
	Role           chatstore.Role
	Text           string
	Final          bool
}

type Options struct {
	Delay  time.Duration
	Jitter time.Duration
}

func ReplyOptions() Options { return Options{Delay: ReplyDelay, Jitter: DefaultJitter} }
func ErrorOptions() Options { return Options{Delay: ErrorDelay, Jitter: DefaultJitter} }
func InboundOptions() Options { return Options{Delay: InboundDelay, Jitter: DefaultJitter} }

// Player runs at most one playback at a time. Frames are emitted while the
// player lock is held, so the sink must not call back into the player.
type Player struct {
	sched scheduler.Scheduler
	sink  func(Frame)
	rnd   func() float64

	mu      sync.Mutex
	current *Playback
}

type PlayerOption func(*Player)

func WithScheduler(s scheduler.Scheduler) PlayerOption {
	return func(p *Player) {
		if s != nil {
			p.sched = s
		}
	}
}

// WithRandom sets the source of jitter, a function returning values in [0,1).
func WithRandom(f func() float64) PlayerOption {
	return func(p *Player) {
		if f != nil {
			p.rnd = f
		}
	}
}

func NewPlayer(sink func(Frame), opts ...PlayerOption) *Player {
	if sink == nil {
		sink = func(Frame) {}
	}
	p := &Player{sched: scheduler.New(), sink: sink, rnd: rand.Float64}
	for _, o := range opts {
		o(p)
	}
	return p
}

type Playback struct {
	p      *Player
	convID string
	msg    chatstore.Message
	runes  []rune
	opts   Options

	revealed int
	finished bool
	timer    scheduler.Timer
	done     chan struct{}
}

// Play starts animating msg and snaps any running playback to its final
// frame first. User messages, inline images and empty content render as a
// single final frame.
func (p *Player) Play(convID string, msg chatstore.Message, opts Options) *Playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.finishLocked(p.current)
	}
	pb := &Playback{
		p:      p,
		convID: convID,
		msg:    msg,
		runes:  []rune(PlainText(msg.Content)),
		opts:   opts,
		done:   make(chan struct{}),
	}
	p.current = pb
	if msg.Role == chatstore.RoleUser || HasInlineImage(msg.Content) || len(pb.runes) == 0 {
		p.finishLocked(pb)
		return pb
	}
	p.stepLocked(pb)
	return pb
}

// Cancel snaps the running playback, if any, to its final frame.
func (p *Player) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.finishLocked(p.current)
	}
}

// Active reports whether a playback is still animating.
func (p *Player) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

func (p *Player) delay(o Options) time.Duration {
	d := o.Delay
	if o.Jitter > 0 {
		d += time.Duration((p.rnd()*2 - 1) * float64(o.Jitter))
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (p *Player) stepLocked(pb *Playback) {
	if pb.finished {
		return
	}
	pb.revealed++
	p.sink(Frame{
		ConversationID: pb.convID,
		MessageID:      pb.msg.ID,
		Role:           pb.msg.Role,
		Text:           string(pb.runes[:pb.revealed]),
	})
	pb.timer = p.sched.AfterFunc(p.delay(pb.opts), func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if pb.finished {
			return
		}
		pb.timer = nil
		if pb.revealed >= len(pb.runes) {
			p.finishLocked(pb)
			return
		}
		p.stepLocked(pb)
	})
}

func (p *Player) finishLocked(pb *Playback) {
	if pb.finished {
		return
	}
	pb.finished = true
	if pb.timer != nil {
		pb.timer.Stop()
		pb.timer = nil
	}
	if p.current == pb {
		p.current = nil
	}
	p.sink(Frame{
		ConversationID: pb.convID,
		MessageID:      pb.msg.ID,
		Role:           pb.msg.Role,
		Text:           pb.msg.Content,
		Final:          true,
	})
	close(pb.done)
	log.Debug().Str("component", "render").Str("message_id", pb.msg.ID).Int("revealed", pb.revealed).Msg("playback finished")
}

// Cancel is idempotent and safe after natural completion.
func (pb *Playback) Cancel() {
	pb.p.mu.Lock()
	defer pb.p.mu.Unlock()
	pb.p.finishLocked(pb)
}

// Done is closed after the final frame was emitted.
func (pb *Playback) Done() <-chan struct{} { return pb.done }

func (pb *Playback) Message() chatstore.Message { return pb.msg }

func (pb *Playback) ConversationID() string { return pb.convID }
