// Package notify delivers operator messages. Delivery is best-effort: sender
// failures are logged and counted, never returned to callers.
package notify

import (
	"context"
	"time"

	"triarb/internal/infra/log"
	"triarb/internal/infra/metrics"
)

// Sender is a single delivery channel.
type Sender interface {
	Send(ctx context.Context, text string) error
	Name() string
	Close() error
}

// Notifier fans a message out to every sender.
type Notifier struct {
	senders []Sender
	timeout time.Duration
	echo    bool
	logger  log.Logger
}

// New returns a Notifier. When echo is set every message is also written to
// the log at info level.
func New(senders []Sender, echo bool, logger log.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		timeout: 10 * time.Second,
		echo:    echo,
		logger:  logger.With().Str("component", "notifier").Logger(),
	}
}

func (n *Notifier) Send(ctx context.Context, text string) {
	if n.echo {
		n.logger.Info().Msg(text)
	} else {
		n.logger.Debug().Msg(text)
	}
	for _, s := range n.senders {
		ctxTO, cancel := context.WithTimeout(ctx, n.timeout)
		err := s.Send(ctxTO, text)
		cancel()
		if err != nil {
			metrics.NotifyErrorsTotal.WithLabelValues(s.Name()).Inc()
			n.logger.Warn().Err(err).Str("sender", s.Name()).Msg("notification failed")
		}
	}
}

// Close releases every sender's resources.
func (n *Notifier) Close() error {
	var first error
	for _, s := range n.senders {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
