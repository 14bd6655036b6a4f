package heating

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

// stateOff is the body the daemon returns for an inactive flag.
const stateOff = "0"

// Sample reads one sensor and decodes its body. On error the returned
// Reading is zero; callers keep their previous value.
func Sample(ctx context.Context, ctrl Controller, s Sensor) (Reading, error) {
	raw, err := ctrl.Read(ctx, s.Command)
	if err != nil {
		return Reading{}, fmt.Errorf("sample %s: %w", s.Key, err)
	}

	value, err := decode(s.Kind, raw)
	if err != nil {
		return Reading{}, fmt.Errorf("sample %s: %w", s.Key, err)
	}

	return Reading{
		Sensor:    s.Key,
		Command:   s.Command,
		Kind:      s.Kind,
		Value:     value,
		Raw:       raw,
		Unit:      s.Unit,
		Timestamp: time.Now().UTC(),
	}, nil
}

func decode(kind ValueKind, raw string) (any, error) {
	switch kind {
	case KindFloat:
		return parseNumber(raw)
	case KindInt:
		// Counters come back as "1234.000000".
		f, err := parseNumber(raw)
		if err != nil {
			return nil, err
		}
		if f >= math.MaxInt || f < math.MinInt {
			return nil, &vcontrold.DecodeError{Kind: "int", Body: vcontrold.ParseString(raw), Err: strconv.ErrRange}
		}
		return int(f), nil
	case KindBool:
		return IsOn(raw), nil
	default:
		return vcontrold.ParseString(raw), nil
	}
}

// parseNumber decodes a numeric body, accepting a "%" glued to the number
// as in "37%".
func parseNumber(body string) (float64, error) {
	fields := strings.Fields(body)
	if len(fields) > 0 {
		fields[0] = strings.TrimSuffix(fields[0], "%")
		body = strings.Join(fields, " ")
	}
	return vcontrold.ParseFloat(body)
}

// IsOn reports whether a flag body is anything but "0".
func IsOn(body string) bool {
	return strings.TrimSpace(body) != stateOff
}
