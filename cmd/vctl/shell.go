package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// daemon is the part of *vcontrold.Device the shell drives.
type daemon interface {
	Read(ctx context.Context, key string) (string, error)
	ReadInt(ctx context.Context, key string) (int, error)
	ReadFloat(ctx context.Context, key string) (float64, error)
	Write(ctx context.Context, key, value string) error
	ID(ctx context.Context) (string, error)
	Addr() string
}

var errUsage = errors.New("usage")

const helpText = `commands:
  <command>              read a value, e.g. getTempA
  int <command>          read and decode as integer
  float <command>        read and decode as decimal
  set <command> <value>  write a value, e.g. set setTempWWsoll 50
  id                     print the inventory id
  help                   show this text
  quit                   leave the shell
`

// execute runs one shell line and writes the result to out. It reports
// whether the shell should exit.
func execute(ctx context.Context, d daemon, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch verb := strings.ToLower(fields[0]); verb {
	case "quit", "exit":
		return true, nil

	case "help", "?":
		fmt.Fprint(out, helpText)
		return false, nil

	case "id":
		id, err := d.ID(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, id)
		return false, nil

	case "int":
		if len(fields) != 2 {
			return false, fmt.Errorf("%w: int <command>", errUsage)
		}
		v, err := d.ReadInt(ctx, fields[1])
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, v)
		return false, nil

	case "float":
		if len(fields) != 2 {
			return false, fmt.Errorf("%w: float <command>", errUsage)
		}
		v, err := d.ReadFloat(ctx, fields[1])
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, v)
		return false, nil

	case "set":
		if len(fields) < 3 {
			return false, fmt.Errorf("%w: set <command> <value>", errUsage)
		}
		if err := d.Write(ctx, fields[1], strings.Join(fields[2:], " ")); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "OK")
		return false, nil

	default:
		if len(fields) != 1 {
			return false, fmt.Errorf("%w: unknown command %q, try help", errUsage, verb)
		}
		body, err := d.Read(ctx, fields[0])
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, body)
		return false, nil
	}
}
