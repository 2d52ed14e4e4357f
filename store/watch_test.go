package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSettings struct {
	mu sync.Mutex
	st Settings
	ok bool
}

func (m *memSettings) Settings(context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ok {
		return Settings{}, ErrNotFound
	}
	return m.st, nil
}

func (m *memSettings) set(st Settings) {
	m.mu.Lock()
	m.st, m.ok = st, true
	m.mu.Unlock()
}

func recv(t *testing.T, ch <-chan Settings) Settings {
	t.Helper()
	select {
	case st := <-ch:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("no settings delivered")
		return Settings{}
	}
}

func TestWatchSettingsDeliversVersionChanges(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &memSettings{}
	ch := WatchSettings(ctx, src, 5*time.Millisecond)

	src.set(Settings{Version: 1, RiskPercent: 1})
	assert.EqualValues(t, 1, recv(t, ch).Version)

	// same version is not re-sent
	select {
	case st := <-ch:
		t.Fatalf("unexpected settings %+v", st)
	case <-time.After(30 * time.Millisecond):
	}

	src.set(Settings{Version: 2, RiskPercent: 0.5})
	st := recv(t, ch)
	assert.EqualValues(t, 2, st.Version)
	assert.Equal(t, 0.5, st.RiskPercent)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
