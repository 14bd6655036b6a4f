package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/config"
	"github.com/nerrad567/vcontrold-bridge/internal/process"
)

// fakeVcontrold writes a script that ignores its arguments.
func fakeVcontrold(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vcontrold")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// listen opens a local port standing in for the daemon's listener.
func listen(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestArgs(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "xml only",
			cfg:  Config{XMLFile: "/etc/vcontrold/vcontrold.xml", Port: 3002},
			want: []string{"-n", "-x", "/etc/vcontrold/vcontrold.xml", "-p", "3002"},
		},
		{
			name: "device and extras",
			cfg:  Config{XMLFile: "v.xml", Port: 3003, Device: "/dev/ttyUSB0", ExtraArgs: []string{"-v"}},
			want: []string{"-n", "-x", "v.xml", "-p", "3003", "-d", "/dev/ttyUSB0", "-v"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Args(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Args() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Config{Binary: "/usr/sbin/vcontrold", XMLFile: "v.xml", Port: 3002}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	for name, mutate := range map[string]func(*Config){
		"no binary": func(c *Config) { c.Binary = "" },
		"no xml":    func(c *Config) { c.XMLFile = "" },
		"bad port":  func(c *Config) { c.Port = 0 },
	} {
		cfg := valid
		mutate(&cfg)
		if cfg.Validate() == nil {
			t.Errorf("%s: Validate() should fail", name)
		}
		if _, err := NewManager(cfg); err == nil {
			t.Errorf("%s: NewManager() should fail", name)
		}
	}
}

func TestConfigFrom(t *testing.T) {
	got := ConfigFrom(config.DaemonConfig{
		Port: 3002,
		Managed: config.ManagedDaemonConfig{
			Enabled:             true,
			Binary:              "/usr/sbin/vcontrold",
			XMLFile:             "/etc/vcontrold/vcontrold.xml",
			Device:              "/dev/ttyUSB0",
			RestartOnFailure:    true,
			RestartDelay:        5,
			MaxRestartDelay:     300,
			MaxRestartAttempts:  10,
			HealthCheckInterval: 30,
		},
	})

	if got.Port != 3002 || got.Device != "/dev/ttyUSB0" || got.MaxRestarts != 10 {
		t.Errorf("ConfigFrom() = %+v", got)
	}
	if got.RestartDelay != 5*time.Second || got.MaxRestartDelay != 5*time.Minute || got.ProbeInterval != 30*time.Second {
		t.Errorf("durations = %v %v %v", got.RestartDelay, got.MaxRestartDelay, got.ProbeInterval)
	}
}

func TestStartWaitsForPort(t *testing.T) {
	m, err := NewManager(Config{
		Binary:       fakeVcontrold(t, "exec sleep 30"),
		XMLFile:      "vcontrold.xml",
		Port:         listen(t),
		ReadyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !m.IsRunning() || m.Stats().PID == 0 {
		t.Errorf("stats = %+v", m.Stats())
	}

	m.Stop()
	if st := m.Stats(); st.State != process.StateStopped {
		t.Errorf("State = %s after Stop", st.State)
	}
}

func TestStartNeverReady(t *testing.T) {
	m, err := NewManager(Config{
		Binary:       fakeVcontrold(t, "exec sleep 30"),
		XMLFile:      "vcontrold.xml",
		Port:         closedPort(t),
		ReadyTimeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	err = m.Start(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start() = %v, want ErrNotReady", err)
	}
	if m.IsRunning() {
		t.Error("process should be stopped after a failed start")
	}
}

func TestStartProcessExits(t *testing.T) {
	m, err := NewManager(Config{
		Binary:       fakeVcontrold(t, "echo 'cannot open /dev/ttyUSB0' >&2; exit 1"),
		XMLFile:      "vcontrold.xml",
		Port:         closedPort(t),
		ReadyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	begin := time.Now()
	err = m.Start(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start() = %v, want ErrNotReady", err)
	}
	if time.Since(begin) > 3*time.Second {
		t.Error("a dead process should fail fast, not wait for the ready timeout")
	}
}
