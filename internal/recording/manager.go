package recording

import (
	"sort"
	"sync"

	"github.com/termshare/termshare/internal/metrics"
	"github.com/termshare/termshare/pkg/types"
)

// Manager owns the set of active recorders and fans session events out to
// all of them in event order. Recorders never see events from before their
// own start.
type Manager struct {
	defaults Options

	mu     sync.RWMutex
	active map[string]*Recorder
}

// NewManager creates a recording manager. defaults fill unset fields of
// per-recording options.
func NewManager(defaults Options) *Manager {
	return &Manager{
		defaults: defaults,
		active:   make(map[string]*Recorder),
	}
}

// Start begins a new recording with the session's current dimensions and
// environment snapshot as header metadata. Mode "off" is rejected here;
// other recordings are unaffected.
func (m *Manager) Start(opts Options, cols, rows int, env map[string]string) (*Recorder, error) {
	if opts.Mode == "" {
		opts.Mode = m.defaults.Mode
	}
	if opts.OutputDir == "" {
		opts.OutputDir = m.defaults.OutputDir
	}
	if opts.IdleTimeLimit == 0 {
		opts.IdleTimeLimit = m.defaults.IdleTimeLimit
	}
	if opts.MaxDuration == 0 {
		opts.MaxDuration = m.defaults.MaxDuration
	}
	if opts.InactivityTimeout == 0 {
		opts.InactivityTimeout = m.defaults.InactivityTimeout
	}
	if !opts.Compress {
		opts.Compress = m.defaults.Compress
	}

	r, err := newRecorder(opts, cols, rows, env, m.remove)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.active[r.ID()] = r
	m.mu.Unlock()
	metrics.RecordingsActive.Inc()
	return r, nil
}

// remove drops a finalized recorder from the active set. Invoked by the
// recorder itself on any finalize path, including timer-driven ones.
func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.active[id]
	delete(m.active, id)
	m.mu.Unlock()
	if ok {
		metrics.RecordingsActive.Dec()
	}
}

// RecordOutput fans one output chunk to every active recorder.
func (m *Manager) RecordOutput(p []byte) {
	for _, r := range m.snapshot() {
		r.RecordOutput(p)
	}
	metrics.RecorderEvents.WithLabelValues("output").Inc()
}

// RecordResize fans one resize event to every active recorder.
func (m *Manager) RecordResize(cols, rows int) {
	for _, r := range m.snapshot() {
		r.RecordResize(cols, rows)
	}
	metrics.RecorderEvents.WithLabelValues("resize").Inc()
}

func (m *Manager) snapshot() []*Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Recorder, 0, len(m.active))
	for _, r := range m.active {
		out = append(out, r)
	}
	return out
}

// Stop finalizes one recording by ID.
func (m *Manager) Stop(id string, exitCode int) (types.RecordingMeta, error) {
	m.mu.RLock()
	r, ok := m.active[id]
	m.mu.RUnlock()
	if !ok {
		return types.RecordingMeta{}, ErrRecordingNotFound
	}
	return r.Finalize(exitCode)
}

// FinalizeAll finalizes every still-active recording with the same exit
// code and returns the aggregated metadata. Calling it again is a no-op
// returning an empty list: finalized recorders leave the active set.
func (m *Manager) FinalizeAll(exitCode int) []types.RecordingMeta {
	metas := make([]types.RecordingMeta, 0)
	for _, r := range m.snapshot() {
		meta, err := r.Finalize(exitCode)
		if err != nil {
			// Persistence failed but the recorder is finalized; report
			// what we have.
			meta.ID = r.ID()
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	return metas
}

// ActiveIDs lists currently recording IDs, sorted.
func (m *Manager) ActiveIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
