package transport

import "sync"

// Meter folds raw volume-indicator ticks into the speaking map consumed by
// UI layers. A source counts as speaking above the threshold and decays to
// absent after decayTicks silent ticks, so a single missed tick does not
// flicker the indicator.
type Meter struct {
	mu         sync.Mutex
	threshold  int
	decayTicks int
	levels     map[string]int
	silent     map[string]int
}

func NewMeter(threshold, decayTicks int) *Meter {
	if decayTicks < 1 {
		decayTicks = 1
	}
	return &Meter{
		threshold:  threshold,
		decayTicks: decayTicks,
		levels:     make(map[string]int),
		silent:     make(map[string]int),
	}
}

// Update applies one metering tick. Sources absent from raw are treated as
// silent.
func (m *Meter) Update(raw map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for uid, level := range raw {
		if level > m.threshold {
			m.levels[uid] = level
			m.silent[uid] = 0
		}
	}
	for uid := range m.levels {
		if level, ok := raw[uid]; ok && level > m.threshold {
			continue
		}
		m.silent[uid]++
		if m.silent[uid] >= m.decayTicks {
			delete(m.levels, uid)
			delete(m.silent, uid)
		}
	}
}

// Levels returns a copy of the current speaking map keyed by transport
// identifier.
func (m *Meter) Levels() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.levels))
	for uid, level := range m.levels {
		out[uid] = level
	}
	return out
}

// Forget drops a source immediately, used when it unpublishes or leaves.
func (m *Meter) Forget(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.levels, uid)
	delete(m.silent, uid)
}
