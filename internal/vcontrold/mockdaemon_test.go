package vcontrold

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const testPrompt = "vctrld>"

// Handler replies for the mock daemon.
const (
	replyHangUp  = "\x00hangup"  // close the connection without replying
	replySilence = "\x00silence" // send nothing, not even the prompt
)

// mockDaemon is an in-process vcontrold stand-in listening on loopback.
type mockDaemon struct {
	t       *testing.T
	ln      net.Listener
	handler func(line string) string

	mu      sync.Mutex
	conns   []net.Conn
	lines   []string
	raw     strings.Builder
	accepts int

	wg sync.WaitGroup
}

func newMockDaemon(t *testing.T, handler func(line string) string) *mockDaemon {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	md := &mockDaemon{t: t, ln: ln, handler: handler}
	md.wg.Add(1)
	go md.serve()

	t.Cleanup(md.stop)
	return md
}

func (md *mockDaemon) serve() {
	defer md.wg.Done()
	for {
		c, err := md.ln.Accept()
		if err != nil {
			return
		}
		md.mu.Lock()
		md.accepts++
		md.conns = append(md.conns, c)
		md.mu.Unlock()

		md.wg.Add(1)
		go md.handle(c)
	}
}

func (md *mockDaemon) handle(c net.Conn) {
	defer md.wg.Done()
	defer c.Close()

	if _, err := c.Write([]byte(testPrompt)); err != nil {
		return
	}

	r := bufio.NewReader(c)
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line := strings.TrimRight(raw, "\r\n")

		md.mu.Lock()
		md.raw.WriteString(raw)
		md.lines = append(md.lines, line)
		md.mu.Unlock()

		if line == "" {
			if _, err := c.Write([]byte(testPrompt)); err != nil {
				return
			}
			continue
		}

		reply := md.handler(line)
		switch reply {
		case replyHangUp:
			return
		case replySilence:
			continue
		}
		if _, err := c.Write([]byte(reply + "\n" + testPrompt)); err != nil {
			return
		}
	}
}

// dropConnections closes every accepted connection from the daemon side.
func (md *mockDaemon) dropConnections() {
	md.mu.Lock()
	defer md.mu.Unlock()
	for _, c := range md.conns {
		c.Close()
	}
	md.conns = nil
}

func (md *mockDaemon) stop() {
	md.ln.Close()
	md.dropConnections()
	md.wg.Wait()
}

func (md *mockDaemon) port() int {
	return md.ln.Addr().(*net.TCPAddr).Port
}

func (md *mockDaemon) acceptCount() int {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.accepts
}

// commandCount returns how many times a line with the given key arrived.
func (md *mockDaemon) commandCount(key string) int {
	md.mu.Lock()
	defer md.mu.Unlock()
	n := 0
	for _, l := range md.lines {
		if l == key || strings.HasPrefix(l, key+" ") {
			n++
		}
	}
	return n
}

func (md *mockDaemon) rawBytes() string {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.raw.String()
}

// testConfig returns a Config pointed at md with timeouts short enough
// for tests.
func testConfig(md *mockDaemon) Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            md.port(),
		DialTimeout:     time.Second,
		ReadTimeout:     300 * time.Millisecond,
		SyncTimeout:     50 * time.Millisecond,
		ConnectBackoff:  5 * time.Millisecond,
		ConnectAttempts: 3,
		CommandAttempts: 3,
	}
}

// staticReplies answers from a fixed table and "ERR: unknown command"
// otherwise.
func staticReplies(table map[string]string) func(string) string {
	return func(line string) string {
		if body, ok := table[line]; ok {
			return body
		}
		return "ERR: unknown command " + strconv.Quote(line)
	}
}
