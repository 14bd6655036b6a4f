package vcontrold

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestDevice(t *testing.T, md *mockDaemon) *Device {
	t.Helper()
	d := New(testConfig(md))
	t.Cleanup(func() { d.Close() })
	return d
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.Host != "127.0.0.1" || cfg.Port != 3002 {
		t.Errorf("addr = %s:%d, want 127.0.0.1:3002", cfg.Host, cfg.Port)
	}
	if cfg.Prompt != "vctrld>" {
		t.Errorf("Prompt = %q", cfg.Prompt)
	}
	if cfg.ConnectAttempts != 3 || cfg.CommandAttempts != 3 {
		t.Errorf("attempts = %d/%d, want 3/3", cfg.ConnectAttempts, cfg.CommandAttempts)
	}
	if cfg.ConnectBackoff != time.Second {
		t.Errorf("ConnectBackoff = %v, want 1s", cfg.ConnectBackoff)
	}
	if cfg.InventoryCommand != "getInventory" {
		t.Errorf("InventoryCommand = %q", cfg.InventoryCommand)
	}
}

func TestCommandLine(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		want    string
		wantErr bool
	}{
		{name: "read", cmd: ReadCommand("getTempA"), want: "getTempA"},
		{name: "write", cmd: WriteCommand("setTempWWsoll", "50"), want: "setTempWWsoll 50"},
		{name: "write empty value", cmd: WriteCommand("setX", ""), want: "setX "},
		{name: "trimmed key", cmd: ReadCommand(" getTempA "), want: "getTempA"},
		{name: "empty key", cmd: ReadCommand(""), wantErr: true},
		{name: "key with space", cmd: ReadCommand("get TempA"), wantErr: true},
		{name: "value with newline", cmd: WriteCommand("setX", "1\r\ngetY"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Line()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCommand) {
					t.Errorf("Line() error = %v, want ErrInvalidCommand", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Line() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Line() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeviceReadStripsFraming(t *testing.T) {
	bodies := []string{
		"21.50 Grad Celsius",
		"H+WW",
		"7 starts",
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			md := newMockDaemon(t, staticReplies(map[string]string{"getX": body}))
			d := newTestDevice(t, md)

			got, err := d.Read(context.Background(), "getX")
			if err != nil {
				t.Fatalf("Read() error: %v", err)
			}
			if got != body {
				t.Errorf("Read() = %q, want %q", got, body)
			}
			if strings.Contains(got, testPrompt) || strings.ContainsAny(got, "\r\n") {
				t.Errorf("Read() left framing in %q", got)
			}
		})
	}
}

func TestDeviceReconnectsOnceAfterDrop(t *testing.T) {
	md := newMockDaemon(t, staticReplies(map[string]string{"getTempA": "4.5"}))
	d := newTestDevice(t, md)
	ctx := context.Background()

	if _, err := d.Read(ctx, "getTempA"); err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if n := md.acceptCount(); n != 1 {
		t.Fatalf("accepts = %d, want 1", n)
	}

	md.dropConnections()

	got, err := d.Read(ctx, "getTempA")
	if err != nil {
		t.Fatalf("Read after drop: %v", err)
	}
	if got != "4.5" {
		t.Errorf("Read after drop = %q, want 4.5", got)
	}
	if n := md.acceptCount(); n != 2 {
		t.Errorf("accepts = %d, want exactly one reconnect (2)", n)
	}
}

func TestDeviceReconnectsAfterHangUpMidCommand(t *testing.T) {
	var hungUp atomic.Bool
	md := newMockDaemon(t, func(line string) string {
		if line == "getTempA" && hungUp.CompareAndSwap(false, true) {
			return replyHangUp
		}
		return "4.5"
	})
	d := newTestDevice(t, md)

	got, err := d.Read(context.Background(), "getTempA")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "4.5" {
		t.Errorf("Read = %q, want 4.5", got)
	}
	if n := md.acceptCount(); n != 2 {
		t.Errorf("accepts = %d, want 2", n)
	}
}

func TestDeviceWrite(t *testing.T) {
	tests := []struct {
		name          string
		reply         string
		wantErr       error
		wantConnected bool
	}{
		{name: "acknowledged", reply: "OK", wantConnected: true},
		{name: "acknowledged with text", reply: "OK value set", wantConnected: true},
		{name: "protocol error", reply: "ERR: command not supported", wantErr: ErrProtocol},
		{name: "not acknowledged", reply: "50", wantErr: ErrWriteRejected, wantConnected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := newMockDaemon(t, staticReplies(map[string]string{"setTempWWsoll 50": tt.reply}))
			d := newTestDevice(t, md)

			err := d.Write(context.Background(), "setTempWWsoll", "50")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Write() error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Write() error = %v, want %v", err, tt.wantErr)
			}
			if d.IsConnected() != tt.wantConnected {
				t.Errorf("IsConnected() = %v, want %v", d.IsConnected(), tt.wantConnected)
			}
		})
	}
}

func TestDeviceProtocolErrorKeepsIDAndReconnects(t *testing.T) {
	md := newMockDaemon(t, staticReplies(map[string]string{
		"getInventory": "20CB Vitodens 300",
		"getTempA":     "3.2",
		"setBad 1":     "ERR: unknown",
	}))
	d := newTestDevice(t, md)
	ctx := context.Background()

	id, err := d.ID(ctx)
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if id != "20CB" {
		t.Errorf("ID = %q, want 20CB", id)
	}

	if err := d.Write(ctx, "setBad", "1"); !errors.Is(err, ErrProtocol) {
		t.Fatalf("Write error = %v, want ErrProtocol", err)
	}
	if d.IsConnected() {
		t.Error("connection survived a protocol error")
	}

	id, err = d.ID(ctx)
	if err != nil || id != "20CB" {
		t.Errorf("cached ID = %q, %v", id, err)
	}

	if _, err := d.Read(ctx, "getTempA"); err != nil {
		t.Fatalf("Read after protocol error: %v", err)
	}
	if n := md.acceptCount(); n != 2 {
		t.Errorf("accepts = %d, want 2", n)
	}
	if n := md.commandCount("getInventory"); n != 1 {
		t.Errorf("getInventory sent %d times, want 1", n)
	}
	if s := d.Stats(); s.ProtocolErrors != 1 {
		t.Errorf("ProtocolErrors = %d, want 1", s.ProtocolErrors)
	}
}

func TestDeviceReadInt(t *testing.T) {
	md := newMockDaemon(t, staticReplies(map[string]string{
		"getBrennerStarts": "7 starts",
		"getWords":         "seven",
	}))
	d := newTestDevice(t, md)
	ctx := context.Background()

	n, err := d.ReadInt(ctx, "getBrennerStarts")
	if err != nil || n != 7 {
		t.Errorf("ReadInt = %d, %v; want 7", n, err)
	}

	_, err = d.ReadInt(ctx, "getWords")
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("ReadInt error = %v, want *DecodeError", err)
	}
	if de.Body != "seven" {
		t.Errorf("DecodeError.Body = %q", de.Body)
	}
	if !d.IsConnected() {
		t.Error("decode error must not tear down the connection")
	}
}

func TestDeviceReadFloat(t *testing.T) {
	md := newMockDaemon(t, staticReplies(map[string]string{"getTempA": "21.5 C"}))
	d := newTestDevice(t, md)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := d.ReadFloat(ctx, "getTempA")
		if err != nil {
			t.Fatalf("ReadFloat #%d: %v", i, err)
		}
		if v != 21.5 {
			t.Errorf("ReadFloat #%d = %v, want 21.5", i, v)
		}
	}
}

func TestDeviceIDFetchedOnce(t *testing.T) {
	md := newMockDaemon(t, staticReplies(map[string]string{"getInventory": "20CB"}))
	d := newTestDevice(t, md)
	ctx := context.Background()

	var wg sync.WaitGroup
	for j := 0; j < 5; j++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if id, err := d.ID(ctx); err != nil || id != "20CB" {
				t.Errorf("ID = %q, %v", id, err)
			}
		}()
	}
	wg.Wait()

	for j := 0; j < 5; j++ {
		if _, err := d.ID(ctx); err != nil {
			t.Fatalf("ID: %v", err)
		}
	}

	if n := md.commandCount("getInventory"); n != 1 {
		t.Errorf("getInventory sent %d times, want 1", n)
	}
}

func TestDeviceIDRetriedUntilSuccess(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	md := newMockDaemon(t, func(line string) string {
		if fail.Load() {
			return "ERR: busy"
		}
		return "20CB"
	})
	d := newTestDevice(t, md)
	ctx := context.Background()

	if _, err := d.ID(ctx); !errors.Is(err, ErrProtocol) {
		t.Fatalf("ID error = %v, want ErrProtocol", err)
	}
	fail.Store(false)
	if id, err := d.ID(ctx); err != nil || id != "20CB" {
		t.Errorf("ID = %q, %v", id, err)
	}
}

func TestDeviceConcurrentCommandsDoNotInterleave(t *testing.T) {
	md := newMockDaemon(t, staticReplies(map[string]string{
		"getTempA":         "4.5",
		"setTempWWsoll 50": "OK",
	}))
	d := newTestDevice(t, md)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				if i%2 == 0 {
					if _, err := d.Read(ctx, "getTempA"); err != nil {
						t.Errorf("Read: %v", err)
					}
				} else if err := d.Write(ctx, "setTempWWsoll", "50"); err != nil {
					t.Errorf("Write: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	raw := md.rawBytes()
	if !strings.HasSuffix(raw, "\r\n") {
		t.Fatalf("raw stream ends mid-line: %q", raw)
	}
	for _, line := range strings.Split(strings.TrimSuffix(raw, "\r\n"), "\r\n") {
		switch line {
		case "", "getTempA", "setTempWWsoll 50":
		default:
			t.Errorf("interleaved or corrupt line %q", line)
		}
	}
	if got := md.commandCount("getTempA"); got != 6 {
		t.Errorf("getTempA count = %d, want 6", got)
	}
	if got := md.commandCount("setTempWWsoll"); got != 6 {
		t.Errorf("setTempWWsoll count = %d, want 6", got)
	}
}

func TestDeviceEmptyResponsesExhaustRetries(t *testing.T) {
	md := newMockDaemon(t, func(string) string { return "" })
	d := newTestDevice(t, md)

	got, err := d.Read(context.Background(), "getTempA")
	if !errors.Is(err, ErrFrameDesync) {
		t.Fatalf("Read error = %v, want ErrFrameDesync", err)
	}
	if got != "" {
		t.Errorf("Read = %q, want empty", got)
	}
	if n := md.commandCount("getTempA"); n != 3 {
		t.Errorf("getTempA sent %d times, want 3", n)
	}
	if d.IsConnected() {
		t.Error("connection not torn down after exhausting retries")
	}
	if s := d.Stats(); s.EmptyResponses != 3 || s.CommandsFailed != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestDeviceSilentDaemonTimesOut(t *testing.T) {
	md := newMockDaemon(t, func(string) string { return replySilence })
	d := newTestDevice(t, md)

	start := time.Now()
	_, err := d.Read(context.Background(), "getTempA")
	if !errors.Is(err, ErrFrameDesync) {
		t.Fatalf("Read error = %v, want ErrFrameDesync", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Read took %v", elapsed)
	}
}

func TestDeviceConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d := New(Config{
		Host:           "127.0.0.1",
		Port:           port,
		DialTimeout:    200 * time.Millisecond,
		ConnectBackoff: time.Millisecond,
	})
	defer d.Close()

	got, err := d.Read(context.Background(), "getTempA")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Read error = %v, want ErrConnectionFailed", err)
	}
	if got != "" {
		t.Errorf("Read = %q, want empty", got)
	}
	if s := d.Stats(); s.ConnectFailures != 9 {
		t.Errorf("ConnectFailures = %d, want 9 (3 dials x 3 attempts)", s.ConnectFailures)
	}
	if err := d.Write(context.Background(), "setX", "1"); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Write error = %v, want ErrConnectionFailed", err)
	}
}

func TestDeviceLockWaitHonoursContext(t *testing.T) {
	md := newMockDaemon(t, staticReplies(map[string]string{"getTempA": "4.5"}))
	d := newTestDevice(t, md)

	if err := d.ch.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Read(ctx, "getTempA")
	d.ch.sem.Release(1)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Read error = %v, want context.DeadlineExceeded", err)
	}
	if n := md.commandCount("getTempA"); n != 0 {
		t.Errorf("command reached the daemon %d times", n)
	}
}

func TestDeviceInvalidCommandNotSent(t *testing.T) {
	md := newMockDaemon(t, staticReplies(nil))
	d := newTestDevice(t, md)

	if _, err := d.Read(context.Background(), ""); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Read(\"\") error = %v, want ErrInvalidCommand", err)
	}
	if n := md.acceptCount(); n != 0 {
		t.Errorf("accepts = %d, want 0", n)
	}
}

func TestDeviceClose(t *testing.T) {
	md := newMockDaemon(t, staticReplies(map[string]string{"getTempA": "4.5"}))
	d := New(testConfig(md))
	ctx := context.Background()

	if _, err := d.Read(ctx, "getTempA"); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if d.IsConnected() {
		t.Error("IsConnected after Close")
	}
	if _, err := d.Read(ctx, "getTempA"); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after Close error = %v, want ErrClosed", err)
	}
	if err := d.HealthCheck(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck after Close = %v, want ErrClosed", err)
	}
}

func TestDeviceHealthCheckConnects(t *testing.T) {
	md := newMockDaemon(t, staticReplies(nil))
	d := newTestDevice(t, md)

	if err := d.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !d.IsConnected() {
		t.Error("not connected after HealthCheck")
	}
	s := d.Stats()
	if s.Connects != 1 || s.LastActivity.IsZero() {
		t.Errorf("stats = %+v", s)
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestDeviceLogsRejectedWrite(t *testing.T) {
	md := newMockDaemon(t, staticReplies(map[string]string{"setX 1": "nope"}))
	d := newTestDevice(t, md)
	log := &recordingLogger{}
	d.SetLogger(log)

	if err := d.Write(context.Background(), "setX", "1"); !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("Write error = %v", err)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.warns) == 0 {
		t.Error("rejected write was not logged")
	}
}

func TestDeviceCloseAbortsReconnectLoop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d := New(Config{
		Host:           "127.0.0.1",
		Port:           port,
		DialTimeout:    200 * time.Millisecond,
		ConnectBackoff: 10 * time.Second,
	})

	errc := make(chan error, 1)
	go func() {
		_, err := d.Read(context.Background(), "getTempA")
		errc <- err
	}()

	// Let the first dial fail so the read is parked in the backoff pause.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Errorf("Close took %v, want well under the 10s backoff", took)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Read error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read still blocked after Close")
	}
}
