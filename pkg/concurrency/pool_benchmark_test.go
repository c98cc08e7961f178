package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"

	"flashgate/internal/core"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...interface{})               {}
func (l *noopLogger) Info(msg string, fields ...interface{})                {}
func (l *noopLogger) Warn(msg string, fields ...interface{})                {}
func (l *noopLogger) Error(msg string, fields ...interface{})               {}
func (l *noopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *noopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *noopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func BenchmarkWorkerPoolSubmit(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "bench",
		MaxWorkers:  16,
		MaxCapacity: 1024,
	}, &noopLogger{})
	defer pool.Stop()

	var counter int64
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
		})
	}
}

func BenchmarkWorkerPoolSubmitAndWait(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "bench_wait",
		MaxWorkers:  16,
		MaxCapacity: 1024,
	}, &noopLogger{})
	defer pool.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.SubmitAndWait(func() {})
	}
}

func BenchmarkBareGoroutine(b *testing.B) {
	var wg sync.WaitGroup
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		go wg.Done()
	}
	wg.Wait()
}
