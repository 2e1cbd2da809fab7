package ingress

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tachyon-beep/murk-sub003/internal/errs"
)

// cacheLineSize is the assumed CPU cache line width; padding fields sized
// to it keep the queue's hot counters on separate lines so independent
// producers/consumer don't thrash each other's cache line.
const cacheLineSize = 64

type padding [cacheLineSize]byte

// Queue is a bounded multi-producer, single-consumer ring buffer of
// Command values with cache-line padding around its head/tail counters,
// the same layout as spatial.LockFreeQueue generalized from a type
// parameter to a fixed Command element (the engine only ever queues one
// payload type, so the extra indirection bought nothing here) plus an
// arrival-sequence counter the teacher's queue didn't need.
type Queue struct {
	_pad0 padding

	head uint64 // atomic: next write slot claimed by a producer
	_pad1 padding

	tail uint64 // atomic: next slot the single consumer will read
	_pad2 padding

	arrivalSeq uint64 // atomic: monotonic enqueue counter
	_pad3 padding

	mask uint64
	data []Command

	limiters sourceLimiters
}

// NewQueue creates a queue whose capacity is rounded up to the next power
// of two (capacity must be positive). perSourceRate/perSourceBurst
// configure the token bucket applied per SourceID; a zero rate disables
// per-source limiting.
func NewQueue(capacity int, perSourceRate rate.Limit, perSourceBurst int) *Queue {
	c := 1
	for c < capacity {
		c <<= 1
	}
	return &Queue{
		mask: uint64(c - 1),
		data: make([]Command, c),
		limiters: sourceLimiters{
			rateLimit: perSourceRate,
			burst:     perSourceBurst,
		},
	}
}

// TryEnqueue attempts to add cmd to the queue, assigning its ArrivalSeq.
// It returns QueueFull if the ring is at capacity and NotApplied (reusing
// the ingress-rejection taxonomy) if the source's rate limiter denies the
// command. Safe for concurrent callers.
func (q *Queue) TryEnqueue(cmd Command) (Command, error) {
	if q.limiters.rateLimit > 0 && !q.limiters.allow(cmd.SourceID) {
		return cmd, errs.Newf(errs.NotApplied, "source %d exceeded its ingress rate limit", cmd.SourceID)
	}

	for {
		head := atomic.LoadUint64(&q.head)
		tail := atomic.LoadUint64(&q.tail)
		if head-tail > q.mask {
			return cmd, errs.New(errs.QueueFull, "ingress queue at capacity")
		}
		if atomic.CompareAndSwapUint64(&q.head, head, head+1) {
			cmd.ArrivalSeq = atomic.AddUint64(&q.arrivalSeq, 1) - 1
			q.data[head&q.mask] = cmd
			return cmd, nil
		}
		runtime.Gosched()
	}
}

// DrainTo copies all currently available commands into buf (consumer
// only) and returns the count written, without allocating. Callers
// typically sort the result with SortCommands before applying it.
func (q *Queue) DrainTo(buf []Command) int {
	count := 0
	for count < len(buf) {
		tail := atomic.LoadUint64(&q.tail)
		head := atomic.LoadUint64(&q.head)
		if tail >= head {
			break
		}
		buf[count] = q.data[tail&q.mask]
		atomic.StoreUint64(&q.tail, tail+1)
		count++
	}
	return count
}

// Len reports the approximate number of queued commands.
func (q *Queue) Len() int {
	head := atomic.LoadUint64(&q.head)
	tail := atomic.LoadUint64(&q.tail)
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap reports the queue's fixed capacity.
func (q *Queue) Cap() int { return int(q.mask + 1) }

// sourceLimiters holds one token-bucket limiter per SourceID, grounded on
// event_log.go's playerLimiters sync.Map of per-player rate.Limiter
// values, generalized from player IDs to arbitrary uint64 source IDs.
type sourceLimiters struct {
	m         sync.Map // map[uint64]*limiterEntry
	rateLimit rate.Limit
	burst     int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nanos
}

func (s *sourceLimiters) allow(sourceID uint64) bool {
	v, _ := s.m.LoadOrStore(sourceID, &limiterEntry{limiter: rate.NewLimiter(s.rateLimit, s.burst)})
	e := v.(*limiterEntry)
	e.lastUsed.Store(timeNowUnixNano())
	return e.limiter.Allow()
}

// Sweep removes limiter entries idle for longer than maxIdle, called
// periodically by the owning runtime rather than from a background
// goroutine of its own, so the queue stays free of hidden concurrency.
func (s *sourceLimiters) Sweep(maxIdle time.Duration) {
	cutoff := timeNowUnixNano() - maxIdle.Nanoseconds()
	s.m.Range(func(key, value any) bool {
		e := value.(*limiterEntry)
		if e.lastUsed.Load() < cutoff {
			s.m.Delete(key)
		}
		return true
	})
}

// Sweep exposes sourceLimiters.Sweep on Queue for callers that don't reach
// into its internals.
func (q *Queue) Sweep(maxIdle time.Duration) { q.limiters.Sweep(maxIdle) }

func timeNowUnixNano() int64 { return time.Now().UnixNano() }
