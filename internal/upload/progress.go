package upload

import (
	"io"
	"sync"
	"time"
)

// Progress reports how much of the current attempt has been transferred.
type Progress struct {
	// Attempt is the 1-based attempt number.
	Attempt int
	// Fraction is in [0,1] and never decreases within one attempt.
	Fraction float64
	// Retrying marks the pause after attempt Attempt failed and before the
	// next one starts. Fraction is zero and Wait is the pause length.
	Retrying bool
	Wait     time.Duration
}

// ProgressFunc receives progress updates. It is called from the goroutine
// performing the transfer and must not block for long.
type ProgressFunc func(Progress)

// progressReader reports the share of total bytes read through it.
type progressReader struct {
	r       io.Reader
	total   int64
	attempt int
	fn      ProgressFunc

	mu   sync.Mutex
	read int64
	last float64
}

func newProgressReader(r io.Reader, total int64, attempt int, fn ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, attempt: attempt, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.advance(int64(n))
	}
	return n, err
}

func (p *progressReader) advance(n int64) {
	p.mu.Lock()
	p.read += n
	frac := 0.0
	if p.total > 0 {
		frac = float64(p.read) / float64(p.total)
	}
	// Bodies may be read twice by an SDK (checksums, buffering); clamp so the
	// reported fraction stays monotonic.
	if frac > 1 {
		frac = 1
	}
	if frac <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = frac
	p.mu.Unlock()

	p.emit(frac)
}

// complete reports 1.0 unless it was already reported.
func (p *progressReader) complete() {
	p.mu.Lock()
	if p.last >= 1 {
		p.mu.Unlock()
		return
	}
	p.last = 1
	p.mu.Unlock()

	p.emit(1)
}

func (p *progressReader) emit(frac float64) {
	if p.fn != nil {
		p.fn(Progress{Attempt: p.attempt, Fraction: frac})
	}
}
