package transfer

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quaydock/lighter"
)

// State is the lifecycle phase of one upload run.
type State string

const (
	StateNotStarted    State = "not_started"
	StateInitiated     State = "initiated"
	StatePartInFlight  State = "part_in_flight"
	StatePartsComplete State = "parts_complete"
	StateCompleting    State = "completing"
	StateDone          State = "done"
	StateAborting      State = "aborting"
	StateAborted       State = "aborted"
	StateErrored       State = "errored"
)

// Terminal reports whether the state ends a run. Aborted runs can still be
// resumed later; their session record survives.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted || s == StateErrored
}

// Progress is a point-in-time snapshot of a running upload. BytesDone counts
// previously persisted parts too; Speed only averages bytes moved by the
// current run.
type Progress struct {
	State      State
	Strategy   lighter.Strategy
	BytesDone  int64
	TotalBytes int64
	DoneParts  int
	TotalParts int
	Speed      float64
}

// Observer receives transfer lifecycle events. Part events arrive from
// multiple workers, so implementations must be safe for concurrent use.
type Observer interface {
	TransferStarted(key string, totalBytes int64)
	PartUploaded(key string, strategy lighter.Strategy, bytes int64)
	StrategyDowngraded(key string)
	TransferFinished(key string, state State)
}

type noopObserver struct{}

func (noopObserver) TransferStarted(string, int64)                {}
func (noopObserver) PartUploaded(string, lighter.Strategy, int64) {}
func (noopObserver) StrategyDowngraded(string)                    {}
func (noopObserver) TransferFinished(string, State)               {}

// tracker accumulates the numbers behind Progress. All methods are safe for
// concurrent use.
type tracker struct {
	mu         sync.Mutex
	state      State
	strategy   lighter.Strategy
	bytesDone  int64
	bytesSent  int64
	totalBytes int64
	doneParts  int
	totalParts int
	started    time.Time
	now        func() time.Time
}

func newTracker(now func() time.Time, totalBytes int64) *tracker {
	return &tracker{
		state:      StateNotStarted,
		totalBytes: totalBytes,
		started:    now(),
		now:        now,
	}
}

func (t *tracker) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *tracker) setStrategy(s lighter.Strategy) {
	t.mu.Lock()
	t.strategy = s
	t.mu.Unlock()
}

func (t *tracker) setTotalParts(n int) {
	t.mu.Lock()
	t.totalParts = n
	t.mu.Unlock()
}

// initParts seeds the tracker from a session, crediting already persisted
// parts as done bytes without counting them toward this run's speed.
func (t *tracker) initParts(s *lighter.MultipartSession, totalBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalParts = s.TotalParts
	t.strategy = s.Strategy
	t.doneParts = len(s.CompletedParts)
	for _, p := range s.CompletedParts {
		t.bytesDone += partSize(p.Number, s.ChunkSize, totalBytes)
	}
}

func (t *tracker) addBytes(n int64) {
	t.mu.Lock()
	t.bytesDone += n
	t.bytesSent += n
	t.mu.Unlock()
}

func (t *tracker) finishPart() {
	t.mu.Lock()
	t.doneParts++
	t.mu.Unlock()
}

func (t *tracker) sentBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytesSent
}

func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := Progress{
		State:      t.state,
		Strategy:   t.strategy,
		BytesDone:  t.bytesDone,
		TotalBytes: t.totalBytes,
		DoneParts:  t.doneParts,
		TotalParts: t.totalParts,
	}
	if elapsed := t.now().Sub(t.started).Seconds(); elapsed > 0 && t.bytesSent > 0 {
		p.Speed = float64(t.bytesSent) / elapsed
	}
	return p
}

// meteredReader counts bytes as an upload body streams through it, so
// progress moves within a part, not only at part boundaries. count remembers
// what one attempt credited; a failed part attempt gives it back before the
// part is retried from byte zero.
type meteredReader struct {
	r      io.Reader
	tr     *tracker
	notify func()
	count  atomic.Int64
}

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		m.count.Add(int64(n))
		m.tr.addBytes(int64(n))
		if m.notify != nil {
			m.notify()
		}
	}
	return n, err
}

// partSize is the byte length of part n in a file of totalBytes split into
// chunkSize pieces. Only the last part may be short.
func partSize(n int, chunkSize, totalBytes int64) int64 {
	offset := int64(n-1) * chunkSize
	if rest := totalBytes - offset; rest < chunkSize {
		return rest
	}
	return chunkSize
}
