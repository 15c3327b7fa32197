package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

var errWriterClosed = errors.New("logger: writer closed")

// asyncWriter takes log output off the calling goroutine. A single
// goroutine writes queued lines to every sink and flushes whenever the
// queue runs empty. The first sink error sticks and is returned from then on.
type asyncWriter struct {
	lines   chan []byte
	flushes chan chan error
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once

	out   *bufio.Writer
	errMu sync.Mutex
	err   error
}

func newAsyncWriter(sinks []io.Writer, bufSize int) *asyncWriter {
	live := make([]io.Writer, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	if bufSize <= 0 {
		bufSize = 64 << 10
	}
	w := &asyncWriter{
		lines:   make(chan []byte, 256),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
		out:     bufio.NewWriterSize(io.MultiWriter(live...), bufSize),
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.done)
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.fail(w.out.Flush())
				return
			}
			w.write(line)
			if len(w.lines) == 0 {
				w.fail(w.out.Flush())
			}
		case ack := <-w.flushes:
			w.drain()
			ack <- w.out.Flush()
		}
	}
}

func (w *asyncWriter) write(line []byte) {
	_, err := w.out.Write(line)
	w.fail(err)
}

// drain writes lines queued before a flush request.
func (w *asyncWriter) drain() {
	for {
		select {
		case line := <-w.lines:
			w.write(line)
		default:
			return
		}
	}
}

// Write queues a copy of p. It blocks when the queue is full.
func (w *asyncWriter) Write(p []byte) (int, error) {
	if err := w.failure(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	line := append([]byte(nil), p...)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return 0, errWriterClosed
	}
	w.lines <- line
	return len(p), nil
}

// Flush waits until everything written so far reached the sinks.
func (w *asyncWriter) Flush() error {
	if err := w.failure(); err != nil {
		return err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errWriterClosed
	}
	ack := make(chan error, 1)
	w.flushes <- ack
	return <-ack
}

// Close writes out the queue and stops the writer goroutine.
func (w *asyncWriter) Close() error {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.lines)
		w.mu.Unlock()
	})
	<-w.done
	return w.failure()
}

func (w *asyncWriter) fail(err error) {
	if err == nil {
		return
	}
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
}

func (w *asyncWriter) failure() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}
