package poller

type pollMetrics struct {
	totalSelected int
	skipped       int
	fetched       int
	dispatched    int
	errored       int
}

func (m *pollMetrics) Add(other *pollMetrics) {
	m.totalSelected += other.totalSelected
	m.skipped += other.skipped
	m.fetched += other.fetched
	m.dispatched += other.dispatched
	m.errored += other.errored
}

func (m *pollMetrics) logArgs() []any {
	args := make([]any, 0)
	if m.errored != 0 {
		args = append(args, "errored", m.errored)
	}
	if m.skipped != 0 {
		args = append(args, "skipped", m.skipped)
	}
	if m.fetched != 0 {
		args = append(args, "fetched", m.fetched)
	}
	if m.dispatched != 0 {
		args = append(args, "dispatched", m.dispatched)
	}
	return args
}
