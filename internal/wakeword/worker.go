package wakeword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/skypro1111/voice-activation-service/internal/recognition"
)

// Worker message kinds
const (
	msgInit    = "init"
	msgProcess = "process"
	msgReset   = "reset"

	msgReady   = "ready"
	msgError   = "error"
	msgResult  = "result"
	msgPartial = "partial"
)

var (
	// ErrDestroyed is returned for calls made to, or interrupted by, a destroyed worker
	ErrDestroyed = errors.New("wake word worker destroyed")
	// ErrInitTimeout is returned when the engine does not become ready in time
	ErrInitTimeout = errors.New("wake word engine init timed out")
	// ErrNotInitialized is returned by the worker when audio arrives before init
	ErrNotInitialized = errors.New("wake word engine not initialized")
)

const requestQueueSize = 8

type request struct {
	kind       string
	modelPath  string
	sampleRate int
	pcm        []int16
	reply      chan response // nil when no reply is expected
}

type response struct {
	kind string
	text string
	err  error
}

// worker owns one recognition engine and serves requests strictly in order
type worker struct {
	factory recognition.Factory
	logger  *slog.Logger

	requests chan request
	cancel   context.CancelFunc
	done     chan struct{} // closed by stop
	exited   chan struct{} // closed when run returns

	mu       sync.Mutex
	engine   recognition.Engine
	stopOnce sync.Once
}

func newWorker(factory recognition.Factory, logger *slog.Logger) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		factory:  factory,
		logger:   logger,
		requests: make(chan request, requestQueueSize),
		cancel:   cancel,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *worker) run(ctx context.Context) {
	defer close(w.exited)
	defer w.closeEngine()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			resp, ok := w.handle(ctx, req)
			if ok && req.reply != nil {
				// Buffered; never blocks even if the caller gave up
				req.reply <- resp
			}
		}
	}
}

func (w *worker) handle(ctx context.Context, req request) (response, bool) {
	switch req.kind {
	case msgInit:
		engine, err := w.factory(ctx, req.modelPath, req.sampleRate)
		if err != nil {
			return response{kind: msgError, err: err}, true
		}

		w.mu.Lock()
		stopped := w.isStopped()
		if !stopped {
			w.engine = engine
		}
		w.mu.Unlock()

		if stopped {
			engine.Close()
			return response{kind: msgError, err: ErrDestroyed}, true
		}
		return response{kind: msgReady}, true

	case msgProcess:
		engine := w.currentEngine()
		if engine == nil {
			return response{kind: msgError, err: ErrNotInitialized}, true
		}
		tr, err := engine.AcceptWaveform(req.pcm)
		if err != nil {
			return response{kind: msgError, err: err}, true
		}
		if tr.Final {
			return response{kind: msgResult, text: tr.Text}, true
		}
		return response{kind: msgPartial, text: tr.Text}, true

	case msgReset:
		if engine := w.currentEngine(); engine != nil {
			if err := engine.Reset(); err != nil {
				w.logger.Debug("Engine reset failed", slog.String("error", err.Error()))
			}
		}
		return response{}, false
	}

	return response{kind: msgError, err: fmt.Errorf("unknown request %q", req.kind)}, true
}

func (w *worker) currentEngine() recognition.Engine {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.engine
}

func (w *worker) isStopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// call enqueues req and waits for its reply. It returns ctx.Err() on
// timeout and ErrDestroyed if the worker is stopped meanwhile.
func (w *worker) call(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)

	select {
	case w.requests <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-w.done:
		return response{}, ErrDestroyed
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-w.done:
		return response{}, ErrDestroyed
	}
}

// post enqueues a request that expects no reply. It drops the request
// instead of blocking when the queue is full.
func (w *worker) post(req request) bool {
	if w.isStopped() {
		return false
	}
	select {
	case w.requests <- req:
		return true
	default:
		return false
	}
}

// stop terminates the worker and closes its engine, which also unblocks a
// run loop stuck inside an engine call.
func (w *worker) stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		close(w.done)
		w.mu.Unlock()

		w.cancel()
		w.closeEngine()
	})
}

func (w *worker) closeEngine() {
	w.mu.Lock()
	engine := w.engine
	w.engine = nil
	w.mu.Unlock()

	if engine != nil {
		if err := engine.Close(); err != nil {
			w.logger.Warn("Failed to close recognition engine", slog.String("error", err.Error()))
		}
	}
}
