package bridge

import (
	"context"

	"github.com/nerrad567/vcontrold-bridge/internal/heating"
	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

// cycleReader answers repeated reads of the same command within one poll
// cycle from memory. Several entities share commands (getBetriebArtM1
// feeds heat_mode, the climate and the water heater), so this keeps a
// cycle to one daemon round trip per command.
type cycleReader struct {
	ctrl    heating.Controller
	bodies  map[string]string
	errs    map[string]error
	fetches int
}

func newCycleReader(ctrl heating.Controller) *cycleReader {
	return &cycleReader{
		ctrl:   ctrl,
		bodies: make(map[string]string),
		errs:   make(map[string]error),
	}
}

func (c *cycleReader) Read(ctx context.Context, key string) (string, error) {
	if body, ok := c.bodies[key]; ok {
		return body, nil
	}
	if err, ok := c.errs[key]; ok {
		return "", err
	}

	c.fetches++
	body, err := c.ctrl.Read(ctx, key)
	if err != nil {
		c.errs[key] = err
		return "", err
	}
	c.bodies[key] = body
	return body, nil
}

func (c *cycleReader) ReadInt(ctx context.Context, key string) (int, error) {
	body, err := c.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	return vcontrold.ParseInt(body)
}

func (c *cycleReader) ReadFloat(ctx context.Context, key string) (float64, error) {
	body, err := c.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	return vcontrold.ParseFloat(body)
}

// Write is never cached.
func (c *cycleReader) Write(ctx context.Context, key, value string) error {
	return c.ctrl.Write(ctx, key, value)
}
