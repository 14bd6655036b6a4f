package vcontrold

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// readBufferSize is the chunk size for socket reads. Daemon replies are
// short text lines.
const readBufferSize = 512

// connection owns the TCP socket to the daemon. It is not safe for
// concurrent use; the channel serialises every call into it.
type connection struct {
	addr         string
	prompt       []byte
	dialTimeout  time.Duration
	writeTimeout time.Duration
	syncTimeout  time.Duration
	retry        Retry

	nc      net.Conn
	pending []byte // bytes received after the last prompt
	buf     []byte

	// connected mirrors nc != nil for readers outside the lock.
	connected atomic.Bool

	log   *logHolder
	stats *counters
}

func newConnection(cfg Config, log *logHolder, stats *counters) *connection {
	return &connection{
		addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		prompt:       []byte(cfg.Prompt),
		dialTimeout:  cfg.DialTimeout,
		writeTimeout: cfg.WriteTimeout,
		syncTimeout:  cfg.SyncTimeout,
		retry:        Retry{Attempts: cfg.ConnectAttempts, Backoff: cfg.ConnectBackoff},
		buf:          make([]byte, readBufferSize),
		log:          log,
		stats:        stats,
	}
}

// isOpen reports whether a socket is held.
func (c *connection) isOpen() bool {
	return c.nc != nil
}

// connect dials the daemon, retrying per c.retry. On success any prompt
// the daemon sends on accept is drained so the socket starts at rest.
func (c *connection) connect(ctx context.Context) error {
	c.close()

	err := c.retry.Do(ctx, func(attempt int) error {
		nc, err := c.dial(ctx)
		if err != nil {
			c.stats.connectFailures.Add(1)
			c.log.warn("connect to vcontrold failed",
				"addr", c.addr, "attempt", attempt, "error", err)
			return err
		}
		c.nc = nc
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, c.addr, err)
	}

	c.connected.Store(true)
	c.stats.connects.Add(1)
	c.stats.touch()
	c.log.info("connected to vcontrold", "addr", c.addr)

	if _, err := c.readUntilPrompt(c.syncTimeout); err != nil {
		c.close()
		return fmt.Errorf("%w: %s: drain prompt: %w", ErrConnectionFailed, c.addr, err)
	}
	return nil
}

func (c *connection) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	var dialer net.Dialer
	nc, err := dialer.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp://%s: %w", c.addr, err)
	}
	return nc, nil
}

// readUntilPrompt accumulates bytes until the prompt marker is seen or the
// timeout elapses. The returned text includes the prompt when one was
// found. A timeout is not an error: whatever arrived, possibly nothing, is
// returned. Bytes past the prompt are kept for the next call.
func (c *connection) readUntilPrompt(timeout time.Duration) (string, error) {
	if c.nc == nil {
		return "", ErrConnectionFailed
	}
	if err := c.nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("set read deadline: %w", err)
	}

	for {
		if i := bytes.Index(c.pending, c.prompt); i >= 0 && len(c.prompt) > 0 {
			end := i + len(c.prompt)
			out := string(c.pending[:end])
			c.pending = append([]byte(nil), c.pending[end:]...)
			return out, nil
		}

		n, err := c.nc.Read(c.buf)
		c.pending = append(c.pending, c.buf[:n]...)
		if n > 0 {
			c.stats.touch()
		}
		if err == nil {
			continue
		}

		if errors.Is(err, os.ErrDeadlineExceeded) {
			out := string(c.pending)
			c.pending = nil
			return out, nil
		}
		return "", fmt.Errorf("read: %w", err)
	}
}

// sendLine writes text followed by CRLF.
func (c *connection) sendLine(text string) error {
	if c.nc == nil {
		return ErrConnectionFailed
	}
	if err := c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.nc.Write([]byte(text + "\r\n")); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.stats.touch()
	return nil
}

// close releases the socket. Safe to call when already closed.
func (c *connection) close() {
	if c.nc != nil {
		c.nc.Close()
		c.log.debug("vcontrold connection closed", "addr", c.addr)
	}
	c.nc = nil
	c.pending = nil
	c.connected.Store(false)
}
