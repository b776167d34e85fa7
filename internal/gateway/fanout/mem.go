package fanout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// MemLog is an in-process log with the same cursor semantics as a Redis
// stream. Ids are "<seq>-0" starting at 1.
type MemLog struct {
	mu      sync.Mutex
	entries []Entry
	wake    chan struct{}
	closed  bool
	batch   int
	waiting int

	// failReads makes the next n Reads fail; tests use it
	failReads int
}

func NewMemLog(batch int) *MemLog {
	if batch <= 0 {
		batch = 100
	}
	return &MemLog{wake: make(chan struct{}), batch: batch}
}

func (l *MemLog) Read(ctx context.Context, cursor string) ([]Entry, error) {
	l.mu.Lock()
	if l.failReads > 0 {
		l.failReads--
		l.mu.Unlock()
		return nil, fmt.Errorf("memlog: injected read failure")
	}
	start := len(l.entries)
	if cursor != NewOnly && cursor != "" {
		n, err := seqOf(cursor)
		if err != nil {
			l.mu.Unlock()
			return nil, err
		}
		start = min(n, len(l.entries))
	}
	l.mu.Unlock()

	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, ErrClosed
		}
		if len(l.entries) > start {
			end := min(start+l.batch, len(l.entries))
			out := make([]Entry, end-start)
			copy(out, l.entries[start:end])
			l.mu.Unlock()
			return out, nil
		}
		wake := l.wake
		l.waiting++
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			l.doneWaiting()
			return nil, ctx.Err()
		case <-wake:
			l.doneWaiting()
		}
	}
}

func (l *MemLog) Tail(_ context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", ErrClosed
	}
	return strconv.Itoa(len(l.entries)) + "-0", nil
}

func (l *MemLog) Append(_ context.Context, user string, payload []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", ErrClosed
	}
	id := strconv.Itoa(len(l.entries)+1) + "-0"
	l.entries = append(l.entries, Entry{ID: id, User: user, Payload: append([]byte(nil), payload...)})
	close(l.wake)
	l.wake = make(chan struct{})
	return id, nil
}

func (l *MemLog) doneWaiting() {
	l.mu.Lock()
	l.waiting--
	l.mu.Unlock()
}

// Waiting is the number of readers currently blocked for new entries.
func (l *MemLog) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting
}

// FailNextReads makes the next n Read calls return an error.
func (l *MemLog) FailNextReads(n int) {
	l.mu.Lock()
	l.failReads = n
	l.mu.Unlock()
}

func (l *MemLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.wake)
	}
	return nil
}

func seqOf(id string) (int, error) {
	seq, _, _ := strings.Cut(id, "-")
	n, err := strconv.Atoi(seq)
	if err != nil {
		return 0, fmt.Errorf("memlog: bad cursor %q", id)
	}
	return n, nil
}
