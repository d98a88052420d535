package poolregistry

// op is a single mutation request executed on a chain's writer goroutine.
type op struct {
	run  func()
	done chan struct{}
}

// chainWriter serializes every registry mutation for one chain through a single goroutine,
// so each chain's descriptor/snapshot state has exactly one mutator and its updates are
// totally ordered. Readers (Descriptor, PoolsForChain, GetSnapshot cache hits) read the
// Registry's lock-protected maps directly and are not funneled through this actor; only
// mutating operations are, which is what "single writer" requires.
type chainWriter struct {
	ops  chan op
	done chan struct{}
}

func newChainWriter() *chainWriter {
	w := &chainWriter{
		ops:  make(chan op, 256),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *chainWriter) run() {
	for o := range w.ops {
		o.run()
		close(o.done)
	}
	close(w.done)
}

// stop closes the op channel; the writer goroutine drains remaining ops then exits.
func (w *chainWriter) stop() {
	close(w.ops)
	<-w.done
}

// submit runs fn on the writer goroutine and waits for it to complete. fn must not submit
// back to the same writer.
func (w *chainWriter) submit(fn func()) {
	done := make(chan struct{})
	w.ops <- op{run: fn, done: done}
	<-done
}
