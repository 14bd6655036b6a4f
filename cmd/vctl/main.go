// vctl is an interactive shell for a vcontrold daemon.
//
// With arguments it runs one command and exits:
//
//	vctl -host 192.168.1.20 getTempA
//	vctl set setTempWWsoll 50
//
// Without arguments it starts a shell with line editing and history.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/config"
	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

const commandTimeout = 30 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without the exit, so deferred cleanup always happens. It
// returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	host := fs.String("host", vcontrold.DefaultHost, "vcontrold host")
	port := fs.Int("port", vcontrold.DefaultPort, "vcontrold port")
	verbose := fs.Bool("v", false, "log protocol activity to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dev := vcontrold.New(vcontrold.Config{Host: *host, Port: *port})
	defer dev.Close() //nolint:errcheck // nothing left to report to
	if *verbose {
		dev.SetLogger(logging.New(config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}, "vctl"))
	}

	var err error
	if rest := fs.Args(); len(rest) > 0 {
		err = oneShot(ctx, dev, strings.Join(rest, " "), stdout)
	} else {
		err = repl(ctx, dev, NewLineEditor(), stdout)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// oneShot runs a single shell line.
func oneShot(ctx context.Context, d daemon, line string, out io.Writer) error {
	_, err := execute(ctx, d, line, out)
	return err
}

// repl reads lines until quit, EOF or cancellation. Command errors are
// printed and the shell continues.
func repl(ctx context.Context, d daemon, le *LineEditor, out io.Writer) error {
	defer le.Close()

	prompt := fmt.Sprintf("vctl %s> ", d.Addr())
	if le.IsInteractive() {
		fmt.Fprintf(out, "connected to %s, type help for commands\n", d.Addr())
	}

	for ctx.Err() == nil {
		line, err := le.GetLine(prompt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		quit, err := execute(cmdCtx, d, line, out)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	return nil
}
