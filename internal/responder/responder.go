package responder

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTimeout  = 20 * time.Second
	DefaultFallback = "Sorry, I can't answer right now. A member of staff will get back to you soon."
)

// ErrUnavailable means the responder could not produce a reply in time.
var ErrUnavailable = errors.New("responder unavailable")

// Responder produces an automated reply to a subject message.
type Responder interface {
	Reply(ctx context.Context, conversationID, prompt string) (string, error)
}

type Config struct {
	Timeout  time.Duration
	Fallback string
}

// Adapter wraps a Responder so that callers always get text back: a slow, failing or
// empty responder is replaced by the fallback reply.
type Adapter struct {
	responder Responder
	timeout   time.Duration
	fallback  string
	logger    *zap.Logger
}

func NewAdapter(r Responder, config Config, logger *zap.Logger) *Adapter {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(config.Fallback) == "" {
		config.Fallback = DefaultFallback
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		responder: r,
		timeout:   config.Timeout,
		fallback:  config.Fallback,
		logger:    logger,
	}
}

func (a *Adapter) Fallback() string {
	return a.fallback
}

// Reply asks the responder and returns its answer, or the fallback text together with
// the reason the responder was not used.
func (a *Adapter) Reply(ctx context.Context, conversationID, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := a.ask(ctx, conversationID, prompt)
	if err != nil {
		a.logger.Warn("responder unavailable, using fallback",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return a.fallback, err
	}
	return reply, nil
}

func (a *Adapter) ask(ctx context.Context, conversationID, prompt string) (string, error) {
	if a.responder == nil {
		return "", ErrUnavailable
	}

	type result struct {
		reply string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := a.responder.Reply(ctx, conversationID, prompt)
		done <- result{reply, err}
	}()

	// A responder that ignores ctx still cannot hold the conversation up
	select {
	case r := <-done:
		switch {
		case errors.Is(r.err, context.DeadlineExceeded):
			return "", errors.Join(ErrUnavailable, r.err)
		case r.err != nil && !errors.Is(r.err, ErrUnavailable):
			return "", errors.Join(ErrUnavailable, r.err)
		case r.err != nil:
			return "", r.err
		case strings.TrimSpace(r.reply) == "":
			return "", errors.Join(ErrUnavailable, errors.New("empty reply"))
		}
		return r.reply, nil
	case <-ctx.Done():
		return "", errors.Join(ErrUnavailable, ctx.Err())
	}
}
