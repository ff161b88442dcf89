package mpsync

import (
	"sync/atomic"
	"time"
)

// SeqLock is a sequence lock: writers exclude each other through the
// sequence counter, readers never block anybody and instead retry when they
// may have overlapped a write.
//
// The counter is even while no write is in flight and odd during a write.
// A read is valid if the counter was even before the payload was read and
// unchanged after it. Readers may retry without bound under sustained write
// pressure.
//
// The payload guarded by a SeqLock must be read and written with atomic
// operations; the sequence protocol provides the multi-word consistency,
// the atomics only keep every single access well defined.
type SeqLock struct {
	_      CacheLinePad
	seq    atomic.Uint32
	_      [counterPad]byte
	policy BackoffPolicy
}

// NewSeqLock creates a SeqLock whose writers sleep p.MinBackoff between
// failed attempts to enter.
func NewSeqLock(p BackoffPolicy) *SeqLock {
	return &SeqLock{policy: p.resolve()}
}

// BeginWrite waits until the counter is even, moves it to odd and returns
// the even value it started from.
func (l *SeqLock) BeginWrite() uint32 {
	seq := l.seq.Load()
	if seq&1 == 0 && l.seq.CompareAndSwap(seq, seq+1) {
		return seq
	}
	pause := l.policy.orDefault().MinBackoff
	for {
		time.Sleep(pause)
		seq = l.seq.Load()
		if seq&1 == 0 && l.seq.CompareAndSwap(seq, seq+1) {
			return seq
		}
	}
}

// EndWrite publishes the write started by the BeginWrite that returned seq.
func (l *SeqLock) EndWrite(seq uint32) {
	l.seq.Store(seq + 2)
}

// Write runs fn as a writer.
func (l *SeqLock) Write(fn func()) {
	seq := l.BeginWrite()
	fn()
	l.EndWrite(seq)
}

// ReadBegin returns the counter value a read starts from.
func (l *SeqLock) ReadBegin() uint32 {
	return l.seq.Load()
}

// ReadRetry reports whether a read that started at seq must be discarded.
func (l *SeqLock) ReadRetry(seq uint32) bool {
	return seq&1 != 0 || l.seq.Load() != seq
}

// Sequence returns the current counter value.
func (l *SeqLock) Sequence() uint32 {
	return l.seq.Load()
}

// Seq64 is a 64-bit value kept as two 32-bit halves and made atomic as a
// whole by a SeqLock rather than by a 64-bit atomic.
// Readers never see the high half of one write combined with the low half
// of another.
type Seq64 struct {
	lock SeqLock
	hi   atomic.Uint32
	lo   atomic.Uint32
}

// NewSeq64 creates a zero Seq64 whose writers back off per p.
func NewSeq64(p BackoffPolicy) *Seq64 {
	return &Seq64{lock: SeqLock{policy: p.resolve()}}
}

// TryLoad makes one read attempt. ok is false if it overlapped a write.
func (s *Seq64) TryLoad() (v uint64, ok bool) {
	seq := s.lock.ReadBegin()
	hi := s.hi.Load()
	lo := s.lo.Load()
	if s.lock.ReadRetry(seq) {
		return 0, false
	}
	return uint64(hi)<<32 | uint64(lo), true
}

// Load returns a consistent snapshot, retrying as long as it takes.
func (s *Seq64) Load() uint64 {
	for {
		if v, ok := s.TryLoad(); ok {
			return v
		}
		procyield(1)
	}
}

// Store replaces the value.
func (s *Seq64) Store(v uint64) {
	seq := s.lock.BeginWrite()
	s.store(v)
	s.lock.EndWrite(seq)
}

// Add adds delta and returns the new value.
func (s *Seq64) Add(delta uint64) uint64 {
	seq := s.lock.BeginWrite()
	v := uint64(s.hi.Load())<<32 | uint64(s.lo.Load())
	v += delta
	s.store(v)
	s.lock.EndWrite(seq)
	return v
}

func (s *Seq64) store(v uint64) {
	s.hi.Store(uint32(v >> 32))
	s.lo.Store(uint32(v))
}

// Sequence returns the underlying sequence counter.
func (s *Seq64) Sequence() uint32 {
	return s.lock.Sequence()
}
