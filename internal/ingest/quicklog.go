package ingest

// quicklogSampler decides, for a single topic, which events also get
// mirrored into the quicklog stream (spec §3, §4.4).
//
// freq <= 0 means "never sample" — the original recorder represented this
// internally as a counter pinned at the sentinel value -1; here the same
// behavior falls out of treating freq <= 0 as always-false up front.
// freq == k >= 1 marks exactly every k-th event, starting with the very
// first one, with no drift: invariant 4 of spec §8 and scenario S4.
type quicklogSampler struct {
	freq    int
	counter int
}

func newQuicklogSampler(freq int) *quicklogSampler {
	return &quicklogSampler{freq: freq}
}

// mark reports whether the next event on this topic should be mirrored
// into quicklog, and advances the rolling counter.
func (q *quicklogSampler) mark() bool {
	if q.freq <= 0 {
		return false
	}
	marked := q.counter == 0
	q.counter = (q.counter + 1) % q.freq
	return marked
}
