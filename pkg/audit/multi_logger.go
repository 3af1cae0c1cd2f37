package audit

import (
	"context"
	"errors"
	"sync"
)

// ErrLoggerClosed is returned by Log after Close
var ErrLoggerClosed = errors.New("audit logger closed")

// MultiLogger fans each entry out to several loggers
type MultiLogger struct {
	loggers []Logger
	async   bool

	// mu guards closed and orders wg.Add before Close's wg.Wait
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	errChan chan error
}

// NewMultiLogger creates a synchronous multi-logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{
		loggers: loggers,
		errChan: make(chan error, len(loggers)),
	}
}

// SetAsync sets whether logging should be asynchronous. Asynchronous writes
// never report errors from Log; read them from Errors.
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log writes entry to every logger. Synchronous mode returns all failures joined.
func (m *MultiLogger) Log(ctx context.Context, entry *Entry) error {
	if len(m.loggers) == 0 {
		return nil
	}
	// fill ids once so every sink records the same entry
	prepare(entry)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrLoggerClosed
	}

	if m.async {
		m.logAsync(ctx, entry)
		return nil
	}
	return m.logSync(ctx, entry)
}

func (m *MultiLogger) logSync(ctx context.Context, entry *Entry) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiLogger) logAsync(ctx context.Context, entry *Entry) {
	ctx = context.WithoutCancel(ctx)
	for _, logger := range m.loggers {
		m.wg.Add(1)
		go func(l Logger) {
			defer m.wg.Done()
			copied := *entry
			if err := l.Log(ctx, &copied); err != nil {
				select {
				case m.errChan <- err:
				default:
					// Channel full, drop error
				}
			}
		}(logger)
	}
}

// Errors returns the channel receiving asynchronous write failures. It is
// closed by Close once pending writes finish.
func (m *MultiLogger) Errors() <-chan error {
	return m.errChan
}

// Wait blocks until pending asynchronous writes finish
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// Close waits for pending writes and closes every logger. Later calls to
// Log fail with ErrLoggerClosed.
func (m *MultiLogger) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.wg.Wait()
	close(m.errChan)

	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
