package builder

import "sync"

// Signal is an item of a build stream: either BuiltFile or End.
type Signal interface {
	signal()
}

// BuiltFile announces that one binary is ready.
type BuiltFile struct {
	Path string
}

// End is the last item of every stream. Err is set when the build stopped on
// a failure.
type End struct {
	Err error
}

func (BuiltFile) signal() {}
func (End) signal()       {}

// Stream is an unbounded FIFO of build signals with one writer and one
// reader. Push never blocks.
type Stream struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []Signal
	ended bool
	taken bool
}

// NewStream creates an empty Stream.
func NewStream() *Stream {
	s := &Stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Push appends a signal. Signals pushed after End are dropped.
func (s *Stream) Push(sig Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}
	if _, ok := sig.(End); ok {
		s.ended = true
	}
	s.items = append(s.items, sig)
	s.cond.Signal()
}

// Next blocks until a signal is available and removes it.
func (s *Stream) Next() Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.items) == 0 {
		s.cond.Wait()
	}

	sig := s.items[0]
	s.items[0] = nil
	s.items = s.items[1:]
	if _, ok := sig.(End); ok {
		s.taken = true
	}
	return sig
}

// Drain discards signals until End has been taken and returns its error. It
// returns nil at once if End was already taken. Once Drain returns, the
// producer has finished.
func (s *Stream) Drain() error {
	for {
		s.mu.Lock()
		taken := s.taken
		s.mu.Unlock()
		if taken {
			return nil
		}

		if end, ok := s.Next().(End); ok {
			return end.Err
		}
	}
}

// Pending returns the number of queued signals.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
