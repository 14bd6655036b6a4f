package heating

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

// fakeController answers reads from a map and records writes.
type fakeController struct {
	mu       sync.Mutex
	replies  map[string]string
	failRead map[string]error
	writeErr error
	writes   [][2]string
}

func newFake(replies map[string]string) *fakeController {
	return &fakeController{replies: replies, failRead: map[string]error{}}
}

func (f *fakeController) Read(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failRead[key]; ok {
		return "", err
	}
	body, ok := f.replies[key]
	if !ok {
		return "", vcontrold.ErrFrameDesync
	}
	return body, nil
}

func (f *fakeController) ReadInt(ctx context.Context, key string) (int, error) {
	body, err := f.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	return vcontrold.ParseInt(body)
}

func (f *fakeController) ReadFloat(ctx context.Context, key string) (float64, error) {
	body, err := f.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	return vcontrold.ParseFloat(body)
}

func (f *fakeController) Write(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, [2]string{key, value})
	if key == CmdSetOperating {
		f.replies[CmdOperatingMode] = value
	}
	return nil
}

func (f *fakeController) written() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]string, len(f.writes))
	copy(out, f.writes)
	return out
}

var errLinkDown = errors.New("link down")

var _ Controller = (*vcontrold.Device)(nil)
