package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

type fakeDaemon struct {
	replies map[string]string
	writes  []string
}

func (f *fakeDaemon) Read(_ context.Context, key string) (string, error) {
	if body, ok := f.replies[key]; ok {
		return body, nil
	}
	return "", vcontrold.ErrProtocol
}

func (f *fakeDaemon) ReadInt(ctx context.Context, key string) (int, error) {
	body, err := f.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	return vcontrold.ParseInt(body)
}

func (f *fakeDaemon) ReadFloat(ctx context.Context, key string) (float64, error) {
	body, err := f.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	return vcontrold.ParseFloat(body)
}

func (f *fakeDaemon) Write(_ context.Context, key, value string) error {
	f.writes = append(f.writes, key+"="+value)
	return nil
}

func (f *fakeDaemon) ID(context.Context) (string, error) { return "20CB", nil }
func (f *fakeDaemon) Addr() string                      { return "127.0.0.1:3002" }

func newFake() *fakeDaemon {
	return &fakeDaemon{replies: map[string]string{
		"getTempA":         "5.25 Grad Celsius",
		"getBrennerStarts": "12345",
	}}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		line     string
		want     string
		wantQuit bool
		wantErr  error
	}{
		{line: "getTempA", want: "5.25 Grad Celsius\n"},
		{line: "float getTempA", want: "5.25\n"},
		{line: "int getBrennerStarts", want: "12345\n"},
		{line: "id", want: "20CB\n"},
		{line: "set setBetriebArtM1 H+WW", want: "OK\n"},
		{line: "   ", want: ""},
		{line: "quit", wantQuit: true},
		{line: "int", wantErr: errUsage},
		{line: "set setTempWWsoll", wantErr: errUsage},
		{line: "getTempA now", wantErr: errUsage},
		{line: "getNothing", wantErr: vcontrold.ErrProtocol},
		{line: "int getTempA", wantErr: vcontrold.ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			var out bytes.Buffer
			quit, err := execute(context.Background(), newFake(), tt.line, &out)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if quit != tt.wantQuit {
				t.Errorf("quit = %v, want %v", quit, tt.wantQuit)
			}
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestExecuteSetJoinsValue(t *testing.T) {
	d := newFake()
	if _, err := execute(context.Background(), d, "set setTimer 06:00 22:00", &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if len(d.writes) != 1 || d.writes[0] != "setTimer=06:00 22:00" {
		t.Errorf("writes = %v", d.writes)
	}
}

func TestReplPiped(t *testing.T) {
	in := strings.NewReader("getTempA\nbogus two\nid\nquit\ngetTempA\n")
	var prompts, out bytes.Buffer
	le := newScannerEditor(in, &prompts)

	if err := repl(context.Background(), newFake(), le, &out); err != nil {
		t.Fatalf("repl() error = %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "5.25 Grad Celsius") || !strings.Contains(got, "20CB") {
		t.Errorf("output = %q", got)
	}
	if !strings.Contains(got, "error: usage") {
		t.Errorf("bad line should print an error, got %q", got)
	}
	if strings.Count(got, "Grad Celsius") != 1 {
		t.Errorf("lines after quit were executed: %q", got)
	}
	if n := strings.Count(prompts.String(), "vctl 127.0.0.1:3002> "); n != 4 {
		t.Errorf("prompts = %d, want 4", n)
	}
}

func TestReplEOF(t *testing.T) {
	le := newScannerEditor(strings.NewReader("getTempA"), nil)
	var out bytes.Buffer
	if err := repl(context.Background(), newFake(), le, &out); err != nil {
		t.Fatalf("repl() error = %v", err)
	}
	if out.String() != "5.25 Grad Celsius\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestOneShot(t *testing.T) {
	var out bytes.Buffer
	if err := oneShot(context.Background(), newFake(), "float getTempA", &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "5.25\n" {
		t.Errorf("output = %q", out.String())
	}
}
