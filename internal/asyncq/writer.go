package asyncq

import (
	"fmt"

	"github.com/bluenviron/gortsplib/v4/pkg/ringbuffer"

	"github.com/relaycore/relaycore/internal/logger"
)

// Writer runs a sequence of callbacks on their own goroutine, so a
// caller can enqueue blocking work (a socket write, an HTTP hook POST)
// without stalling its own coroutine. Built directly on gortsplib's
// ringbuffer, the same bounded-queue primitive the RTSP side of the
// stack already uses for this job.
type Writer struct {
	log    logger.Writer
	buffer *ringbuffer.RingBuffer
	err    chan error
}

// NewWriter allocates a Writer with the given queue size.
func NewWriter(queueSize int, log logger.Writer) *Writer {
	buffer, _ := ringbuffer.New(uint64(queueSize))
	return &Writer{log: log, buffer: buffer, err: make(chan error)}
}

// Start launches the writer goroutine.
func (w *Writer) Start() {
	go w.run()
}

// Stop closes the queue and waits for the goroutine to exit.
func (w *Writer) Stop() {
	w.buffer.Close()
	<-w.err
}

// Error is closed once the writer goroutine exits; a value on it means
// a pushed callback failed.
func (w *Writer) Error() chan error {
	return w.err
}

func (w *Writer) run() {
	w.err <- w.runInner()
	close(w.err)
}

func (w *Writer) runInner() error {
	for {
		cb, ok := w.buffer.Pull()
		if !ok {
			return fmt.Errorf("asyncq: writer terminated")
		}
		if err := cb.(func() error)(); err != nil {
			return err
		}
	}
}

// Push enqueues cb. If the queue is full the callback is dropped and
// logged, matching the back-pressure policy for control-plane hooks:
// a stuck downstream must never block the publisher.
func (w *Writer) Push(cb func() error) {
	if !w.buffer.Push(cb) {
		if w.log != nil {
			w.log.Log(logger.Warn, "async write queue is full")
		}
	}
}
