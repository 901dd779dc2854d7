package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/josephai/jai-chat/internal/store"
)

type fakeProvider struct {
	name string
	text string
	err  error
	// block makes Complete wait for ctx to end.
	block bool
	// delay holds the answer back; a done ctx cuts it short.
	delay time.Duration

	mu    sync.Mutex
	calls int
	reqs  []CompletionRequest
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	p.mu.Lock()
	p.calls++
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	if p.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.text, p.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func failing(name string) *fakeProvider {
	return &fakeProvider{name: name, err: errors.New(name + " is down")}
}

func succeeding(name, text string) *fakeProvider {
	return &fakeProvider{name: name, text: text}
}

type fakeConfigSource struct {
	cfg   *store.CustomModelConfig
	err   error
	reads int
}

func (f *fakeConfigSource) GetCustomModelConfig(ctx context.Context, modeKey string) (*store.CustomModelConfig, error) {
	f.reads++
	return f.cfg, f.err
}

func configWith(t *testing.T, basePrompt string, triggers []store.EventTrigger, injections []string) *fakeConfigSource {
	t.Helper()
	tj, err := json.Marshal(triggers)
	require.NoError(t, err)
	ij, err := json.Marshal(injections)
	require.NoError(t, err)
	return &fakeConfigSource{cfg: &store.CustomModelConfig{
		BasePrompt:       basePrompt,
		EventTriggers:    tj,
		RandomInjections: ij,
	}}
}

// fixedRandom always injects (Float64 is 0) and always picks the last entry.
type fixedRandom struct{ value float64 }

func (f fixedRandom) Float64() float64 { return f.value }
func (f fixedRandom) IntN(n int) int   { return n - 1 }

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.Open(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
