package channel

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"ppi-control/internal/domain"
)

// defaultSendTimeout bounds one delivery including the wait for a rate token.
const defaultSendTimeout = 15 * time.Second

// Sender delivers plain text to one configured external channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, content string) error
}

// Rate is a token bucket applied per channel. A zero RPS means unlimited.
type Rate struct {
	RPS   float64
	Burst int
}

// Dispatcher implements domain.Notifier over a set of named senders. Each
// channel is paced by its own limiter and failures are logged, never returned.
type Dispatcher struct {
	senders  map[string]Sender
	limiters map[string]*rate.Limiter
	timeout  time.Duration
	logger   *slog.Logger
}

var _ domain.Notifier = (*Dispatcher)(nil)

// NewDispatcher builds a dispatcher. Later senders replace earlier ones with
// the same name.
func NewDispatcher(logger *slog.Logger, r Rate, senders ...Sender) *Dispatcher {
	d := &Dispatcher{
		senders:  make(map[string]Sender, len(senders)),
		limiters: make(map[string]*rate.Limiter, len(senders)),
		timeout:  defaultSendTimeout,
		logger:   logger.With("component", "channels"),
	}
	for _, s := range senders {
		d.senders[s.Name()] = s
		if r.RPS > 0 {
			d.limiters[s.Name()] = rate.NewLimiter(rate.Limit(r.RPS), max(r.Burst, 1))
		}
	}
	return d
}

// Channels lists the configured channel names.
func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.senders))
	for name := range d.senders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Send delivers content to channel and reports whether it was accepted.
func (d *Dispatcher) Send(ctx context.Context, channel, content string) bool {
	s, ok := d.senders[channel]
	if !ok {
		d.logger.Warn("channel delivery failed",
			"channel", channel,
			"error", domain.NewSubSystemError("channel", "Dispatcher.Send", domain.ErrNotFound, channel))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if l := d.limiters[channel]; l != nil {
		if err := l.Wait(ctx); err != nil {
			d.logger.Warn("channel delivery failed",
				"channel", channel,
				"error", domain.NewSubSystemError("channel", "Dispatcher.Send", domain.ErrTimeout, err.Error()))
			return false
		}
	}

	start := time.Now()
	if err := s.Send(ctx, content); err != nil {
		d.logger.Warn("channel delivery failed",
			"channel", channel,
			"error", domain.NewSubSystemError("channel", "Dispatcher.Send", domain.ErrChannelDelivery, err.Error()),
			"duration", time.Since(start))
		return false
	}
	d.logger.Debug("channel delivery ok", "channel", channel, "duration", time.Since(start))
	return true
}
