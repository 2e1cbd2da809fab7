package replay

import (
	"sync/atomic"
)

// ringSize is the number of frame slots held between the tick loop and the
// async writer goroutine. At a 60Hz tick rate, 64 slots is a little over a
// second of buffering - enough to absorb a slow disk write without ever
// blocking Step.
const ringSize = 64

// Ring provides lock-free frame buffering between the tick loop (producer)
// and the async writer (consumer). If the writer falls behind, new frames
// are dropped rather than blocking the tick that produced them - replay
// capture must never be able to stall the simulation it is observing.
type Ring struct {
	frames   [ringSize]ReplayFrame
	readIdx  uint32 // atomic
	writeIdx uint32 // atomic

	written uint64
	dropped uint64
	read    uint64
}

// NewRing returns an empty Ring.
func NewRing() *Ring {
	return &Ring{}
}

// TryWrite attempts to enqueue f. Returns false if the ring is full, in
// which case f is dropped.
func (r *Ring) TryWrite(f ReplayFrame) bool {
	currentWrite := atomic.LoadUint32(&r.writeIdx)
	nextWrite := (currentWrite + 1) % ringSize

	if nextWrite == atomic.LoadUint32(&r.readIdx) {
		atomic.AddUint64(&r.dropped, 1)
		return false
	}

	r.frames[currentWrite] = f
	atomic.StoreUint32(&r.writeIdx, nextWrite)
	atomic.AddUint64(&r.written, 1)
	return true
}

// TryRead dequeues the oldest buffered frame, or returns ok=false if the
// ring is empty.
func (r *Ring) TryRead() (f ReplayFrame, ok bool) {
	readIdx := atomic.LoadUint32(&r.readIdx)
	writeIdx := atomic.LoadUint32(&r.writeIdx)

	if readIdx == writeIdx {
		return ReplayFrame{}, false
	}

	f = r.frames[readIdx]
	nextRead := (readIdx + 1) % ringSize
	atomic.StoreUint32(&r.readIdx, nextRead)
	atomic.AddUint64(&r.read, 1)
	return f, true
}

// Available returns the number of frames currently buffered.
func (r *Ring) Available() int {
	readIdx := atomic.LoadUint32(&r.readIdx)
	writeIdx := atomic.LoadUint32(&r.writeIdx)
	if writeIdx >= readIdx {
		return int(writeIdx - readIdx)
	}
	return int(ringSize - readIdx + writeIdx)
}

// Stats returns the running written/dropped/read counters.
func (r *Ring) Stats() (written, dropped, read uint64) {
	return atomic.LoadUint64(&r.written), atomic.LoadUint64(&r.dropped), atomic.LoadUint64(&r.read)
}
