package vcontrold

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Command is one request line. Value is sent only when HasValue is set.
type Command struct {
	Key      string
	Value    string
	HasValue bool
}

// ReadCommand builds a command without an argument.
func ReadCommand(key string) Command {
	return Command{Key: key}
}

// WriteCommand builds a command carrying one argument.
func WriteCommand(key, value string) Command {
	return Command{Key: key, Value: value, HasValue: true}
}

// Line returns the wire form without the trailing CRLF.
func (c Command) Line() (string, error) {
	key := strings.TrimSpace(c.Key)
	if key == "" || strings.ContainsAny(key, " \t\r\n") {
		return "", fmt.Errorf("%w: key %q", ErrInvalidCommand, c.Key)
	}
	if !c.HasValue {
		return key, nil
	}
	if strings.ContainsAny(c.Value, "\r\n") {
		return "", fmt.Errorf("%w: value for %s contains a line break", ErrInvalidCommand, key)
	}
	return key + " " + c.Value, nil
}

// counters holds channel statistics. All fields are atomic.
type counters struct {
	commandsTotal   atomic.Uint64
	commandsFailed  atomic.Uint64
	protocolErrors  atomic.Uint64
	emptyResponses  atomic.Uint64
	resyncProbes    atomic.Uint64
	connects        atomic.Uint64
	connectFailures atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

func (s *counters) touch() {
	s.lastActivity.Store(time.Now().Unix())
}

// channel is the single path through which commands reach the daemon.
//
// Locking:
//   - the semaphore is held for the whole exchange, including reconnects
//   - waiting for it honours the caller's context
//   - once acquired, the exchange ignores the caller's ctx; only shutdown
//     interrupts it, and only between dials or during a backoff pause
type channel struct {
	sem         *semaphore.Weighted
	conn        *connection
	retry       Retry
	readTimeout time.Duration
	syncTimeout time.Duration
	prompt      string
	closed      atomic.Bool

	// halt is cancelled by shutdown.
	halt   context.Context
	haltFn context.CancelFunc

	log   *logHolder
	stats *counters
}

func newChannel(cfg Config, conn *connection, log *logHolder, stats *counters) *channel {
	halt, haltFn := context.WithCancel(context.Background())
	return &channel{
		halt:        halt,
		haltFn:      haltFn,
		sem:         semaphore.NewWeighted(1),
		conn:        conn,
		retry:       Retry{Attempts: cfg.CommandAttempts},
		readTimeout: cfg.ReadTimeout,
		syncTimeout: cfg.SyncTimeout,
		prompt:      cfg.Prompt,
		log:         log,
		stats:       stats,
	}
}

// execute sends cmd and returns the classified response.
//
// Errors:
//   - ErrInvalidCommand: cmd cannot be serialised, nothing was sent
//   - ErrConnectionFailed: no usable session in any attempt
//   - ErrFrameDesync: every attempt produced an empty body
//   - ErrProtocol: the daemon answered with its error sentinel
//
// On every error except ErrInvalidCommand the connection is torn down so
// the next call starts from a fresh session.
func (ch *channel) execute(ctx context.Context, cmd Command) (Response, error) {
	line, err := cmd.Line()
	if err != nil {
		return Response{}, err
	}

	if err := ch.sem.Acquire(ctx, 1); err != nil {
		return Response{}, fmt.Errorf("vcontrold: waiting for channel: %w", err)
	}
	defer ch.sem.Release(1)

	if ch.closed.Load() {
		return Response{}, ErrClosed
	}

	// The caller cannot cancel an in-flight command, but Close can stop a
	// reconnect loop against an unreachable host.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	defer context.AfterFunc(ch.halt, cancel)()
	ch.stats.commandsTotal.Add(1)

	var body string
	err = ch.retry.Do(ctx, func(attempt int) error {
		if ch.closed.Load() {
			return ErrClosed
		}
		b, err := ch.attempt(ctx, line)
		if err != nil {
			ch.log.warn("vcontrold command attempt failed",
				"command", cmd.Key, "attempt", attempt, "error", err)
			return err
		}
		if b == "" {
			ch.stats.emptyResponses.Add(1)
			ch.log.warn("empty response from vcontrold",
				"command", cmd.Key, "attempt", attempt)
			return ErrFrameDesync
		}
		body = b
		return nil
	})
	if err != nil {
		ch.conn.close()
		ch.stats.commandsFailed.Add(1)
		if ch.closed.Load() {
			return Response{}, fmt.Errorf("%s: %w", cmd.Key, ErrClosed)
		}
		ch.log.error("vcontrold command failed", "command", cmd.Key, "error", err)
		return Response{}, fmt.Errorf("%s: %w", cmd.Key, err)
	}

	resp := Response{Kind: Classify(body), Body: body}
	if resp.Kind == ResponseError {
		ch.conn.close()
		ch.stats.protocolErrors.Add(1)
		ch.stats.commandsFailed.Add(1)
		ch.log.warn("vcontrold rejected command, session reset",
			"command", cmd.Key, "response", body)
		return resp, fmt.Errorf("%w: %s: %s", ErrProtocol, cmd.Key, body)
	}

	ch.log.debug("vcontrold command", "command", cmd.Key, "kind", resp.Kind.String())
	return resp, nil
}

// attempt performs one exchange and returns the trimmed body. An I/O fault
// closes the socket so the next attempt reconnects.
func (ch *channel) attempt(ctx context.Context, line string) (string, error) {
	if !ch.conn.isOpen() {
		if err := ch.conn.connect(ctx); err != nil {
			return "", err
		}
	}

	stray, err := ch.conn.readUntilPrompt(ch.syncTimeout)
	if err != nil {
		return "", ch.fault(err)
	}
	if stray == "" {
		ch.stats.resyncProbes.Add(1)
		if err := ch.conn.sendLine(""); err != nil {
			return "", ch.fault(err)
		}
		if _, err := ch.conn.readUntilPrompt(ch.syncTimeout); err != nil {
			return "", ch.fault(err)
		}
	}

	if err := ch.conn.sendLine(line); err != nil {
		return "", ch.fault(err)
	}

	raw, err := ch.conn.readUntilPrompt(ch.readTimeout)
	if err != nil {
		return "", ch.fault(err)
	}
	return trimBody(raw, ch.prompt), nil
}

func (ch *channel) fault(err error) error {
	ch.conn.close()
	if errors.Is(err, ErrConnectionFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}

// ensureConnected opens a session if none is held.
func (ch *channel) ensureConnected(ctx context.Context) error {
	if err := ch.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("vcontrold: waiting for channel: %w", err)
	}
	defer ch.sem.Release(1)

	if ch.closed.Load() {
		return ErrClosed
	}
	if ch.conn.isOpen() {
		return nil
	}
	return ch.conn.connect(ctx)
}

// shutdown aborts any pending reconnect, waits for the in-flight command,
// then closes the socket. Further commands fail with ErrClosed.
func (ch *channel) shutdown() {
	ch.closed.Store(true)
	ch.haltFn()
	_ = ch.sem.Acquire(context.Background(), 1)
	ch.conn.close()
	ch.sem.Release(1)
}
