package launcher

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/mkalinski/ccrelay/internal/lock"
	"github.com/mkalinski/ccrelay/internal/lock/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type spawnerFunc func() (io.ReadCloser, error)

func (f spawnerFunc) Start() (io.ReadCloser, error) { return f() }

func readySpawner() spawnerFunc {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("1\x00")), nil
	}
}

func forbiddenSpawner(t *testing.T) spawnerFunc {
	return func() (io.ReadCloser, error) {
		t.Error("spawner invoked by a caller that lost the race")
		return nil, errors.New("unexpected spawn")
	}
}

func TestWinnerSpawnsAndCleansUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	lk := mocks.NewMockLocker(ctrl)
	lk.EXPECT().TryLock().Return(true, nil)
	lk.EXPECT().Remove().Return(nil)
	lk.EXPECT().Unlock().Return(nil)
	lk.EXPECT().Close().Return(nil)

	l := New(lk, readySpawner(), discardLogger())
	require.NoError(t, l.EnsureStarted())
}

func TestLoserWaitsAndNeverSpawns(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	lk := mocks.NewMockLocker(ctrl)
	gomock.InOrder(
		lk.EXPECT().TryLock().Return(false, nil),
		lk.EXPECT().Lock().Return(nil),
		lk.EXPECT().Unlock().Return(nil),
		lk.EXPECT().Close().Return(nil),
	)

	l := New(lk, forbiddenSpawner(t), discardLogger())
	require.NoError(t, l.EnsureStarted())
}

func TestWinnerPropagatesDaemonDiagnostic(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	lk := mocks.NewMockLocker(ctrl)
	lk.EXPECT().TryLock().Return(true, nil)
	lk.EXPECT().Unlock().Return(nil)
	lk.EXPECT().Close().Return(nil)

	sp := spawnerFunc(func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("daemon not started: no servers configured\n")), nil
	})

	err := New(lk, sp, discardLogger()).EnsureStarted()
	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	require.Equal(t, "daemon not started: no servers configured", startErr.Diagnostic)
}

func TestWinnerFailsOnSilentDaemonExit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	lk := mocks.NewMockLocker(ctrl)
	lk.EXPECT().TryLock().Return(true, nil)
	lk.EXPECT().Unlock().Return(nil)
	lk.EXPECT().Close().Return(nil)

	sp := spawnerFunc(func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("")), nil
	})

	err := New(lk, sp, discardLogger()).EnsureStarted()
	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	require.Contains(t, startErr.Diagnostic, "before reporting readiness")
}

func TestSpawnErrorReleasesLock(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	lk := mocks.NewMockLocker(ctrl)
	lk.EXPECT().TryLock().Return(true, nil)
	lk.EXPECT().Unlock().Return(nil)
	lk.EXPECT().Close().Return(nil)

	sp := spawnerFunc(func() (io.ReadCloser, error) {
		return nil, errors.New("no such executable")
	})

	err := New(lk, sp, discardLogger()).EnsureStarted()
	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	require.Contains(t, startErr.Diagnostic, "no such executable")
}

// memLockState is the in-memory stand-in for the flock file, shared by all
// racing callers in a test. tryCalls lets the test's spawner hold the race
// open until every caller has entered it.
type memLockState struct {
	mu       sync.Mutex
	tryCalls atomic.Int32
}

type memLocker struct {
	st   *memLockState
	held bool
}

var _ lock.Locker = (*memLocker)(nil)

func (l *memLocker) TryLock() (bool, error) {
	defer l.st.tryCalls.Add(1)
	if l.st.mu.TryLock() {
		l.held = true
		return true, nil
	}
	return false, nil
}

func (l *memLocker) Lock() error {
	l.st.mu.Lock()
	l.held = true
	return nil
}

func (l *memLocker) Unlock() error {
	if l.held {
		l.st.mu.Unlock()
		l.held = false
	}
	return nil
}

func (l *memLocker) Close() error  { return l.Unlock() }
func (l *memLocker) Remove() error { return nil }

func TestConcurrentCallersSpawnExactlyOnce(t *testing.T) {
	const callers = 32

	st := &memLockState{}
	var starts atomic.Int32
	// Readiness is withheld until every caller has attempted the
	// non-blocking lock, so no caller can slip in after the race ends.
	sp := spawnerFunc(func() (io.ReadCloser, error) {
		starts.Add(1)
		for st.tryCalls.Load() < callers {
			time.Sleep(time.Millisecond)
		}
		return io.NopCloser(strings.NewReader("1\x00")), nil
	})

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := New(&memLocker{st: st}, sp, discardLogger())
			errs[i] = l.EnsureStarted()
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, starts.Load(), "exactly one caller may spawn")
	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
}
