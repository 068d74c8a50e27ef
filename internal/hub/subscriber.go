package hub

import "sync"

// Subscriber je jedno živé spojení. Alias a aliasSeq chrání zámek Hubu,
// frontu chrání vlastní mutex.
type Subscriber struct {
	id       string
	alias    string
	aliasSeq uint64

	mu     sync.Mutex
	queue  [][]byte
	limit  int
	ready  chan struct{} // kapacita 1, signál "ve frontě něco je"
	done   chan struct{}
	closed bool
}

func newSubscriber(id string, limit int) *Subscriber {
	return &Subscriber{
		id:    id,
		limit: limit,
		queue: make([][]byte, 0, limit),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (s *Subscriber) ID() string { return s.id }

// Ready signalizuje, že fronta není prázdná.
func (s *Subscriber) Ready() <-chan struct{} { return s.ready }

// Done se zavře, když Hub spojení odregistruje.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// enqueue nikdy neblokuje. Při plné frontě zahodí nejstarší rámec a vrátí true.
func (s *Subscriber) enqueue(b []byte) (dropped bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= s.limit {
		s.queue[0] = nil
		s.queue = s.queue[1:]
		dropped = true
	}
	s.queue = append(s.queue, b)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return dropped
}

// Drain vyzvedne všechny čekající rámce v pořadí zařazení.
func (s *Subscriber) Drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	out := s.queue
	s.queue = make([][]byte, 0, s.limit)
	return out
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
}
