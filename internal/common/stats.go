package common

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Stats holds atomic counters for progress tracking
type Stats struct {
	TotalRowsProcessed  uint64 // rows written to a cache or the warehouse
	TotalBytesWritten   uint64
	TotalChunks         uint64
	CurrentChunkLatency uint64 // nanoseconds

	running  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration
	mu       sync.Mutex // guards the reporter's last* fields
	lastRows uint64
	lastTime time.Time

	// Moving average of rows/s
	rpsWindow []float64
	rpsIndex  int
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		interval:  500 * time.Millisecond,
		rpsWindow: make([]float64, 10),
	}
}

// AddRows atomically increments the rows counter
func (s *Stats) AddRows(count uint64) {
	atomic.AddUint64(&s.TotalRowsProcessed, count)
}

// AddBytes atomically increments the bytes counter
func (s *Stats) AddBytes(count uint64) {
	atomic.AddUint64(&s.TotalBytesWritten, count)
}

// AddChunks atomically increments the chunk counter
func (s *Stats) AddChunks(count uint64) {
	atomic.AddUint64(&s.TotalChunks, count)
}

// SetChunkLatency records how long the last chunk took, in nanoseconds
func (s *Stats) SetChunkLatency(ns uint64) {
	atomic.StoreUint64(&s.CurrentChunkLatency, ns)
}

func (s *Stats) GetTotalRows() uint64 {
	return atomic.LoadUint64(&s.TotalRowsProcessed)
}

func (s *Stats) GetTotalBytes() uint64 {
	return atomic.LoadUint64(&s.TotalBytesWritten)
}

func (s *Stats) GetTotalChunks() uint64 {
	return atomic.LoadUint64(&s.TotalChunks)
}

func (s *Stats) GetChunkLatency() uint64 {
	return atomic.LoadUint64(&s.CurrentChunkLatency)
}

// StartReporter logs progress to l every interval until StopReporter.
// A non-positive interval keeps the default of 500ms.
func (s *Stats) StartReporter(l zerolog.Logger, interval time.Duration) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	if interval > 0 {
		s.interval = interval
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.mu.Lock()
	s.lastTime = time.Now()
	s.lastRows = s.GetTotalRows()
	s.mu.Unlock()

	go s.reporterLoop(l)
}

// StopReporter stops the reporter and waits for it to exit.
func (s *Stats) StopReporter() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *Stats) reporterLoop(l zerolog.Logger) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.report(l, now)
		}
	}
}

func (s *Stats) report(l zerolog.Logger, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := now.Sub(s.lastTime).Seconds()
	if elapsed < 0.001 {
		return
	}

	rows := s.GetTotalRows()
	rps := float64(rows-s.lastRows) / elapsed

	s.rpsWindow[s.rpsIndex] = rps
	s.rpsIndex = (s.rpsIndex + 1) % len(s.rpsWindow)

	var sum float64
	var n int
	for _, v := range s.rpsWindow {
		if v > 0 {
			sum += v
			n++
		}
	}
	avg := 0.0
	if n > 0 {
		avg = sum / float64(n)
	}

	l.Info().
		Float64("rows_per_sec", rps).
		Float64("rows_per_sec_avg", avg).
		Float64("chunk_ms", float64(s.GetChunkLatency())/1e6).
		Uint64("chunks", s.GetTotalChunks()).
		Uint64("rows", rows).
		Uint64("bytes", s.GetTotalBytes()).
		Msg("progress")

	s.lastRows = rows
	s.lastTime = now
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	atomic.StoreUint64(&s.TotalRowsProcessed, 0)
	atomic.StoreUint64(&s.TotalBytesWritten, 0)
	atomic.StoreUint64(&s.TotalChunks, 0)
	atomic.StoreUint64(&s.CurrentChunkLatency, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRows = 0
	s.lastTime = time.Now()
	for i := range s.rpsWindow {
		s.rpsWindow[i] = 0
	}
	s.rpsIndex = 0
}
