package server

// WorkerPool bounds how many socket jobs run at once. Reserve never blocks;
// when every slot is taken the job must be rejected instead of queued.
type WorkerPool struct {
	sem chan struct{}
}

func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 5
	}
	return &WorkerPool{sem: make(chan struct{}, size)}
}

// Reserve claims one worker slot. The returned release function gives the
// slot back and must be called exactly once.
func (p *WorkerPool) Reserve() (func(), bool) {
	select {
	case p.sem <- struct{}{}:
	default:
		return nil, false
	}
	return func() { <-p.sem }, true
}

func (p *WorkerPool) Size() int {
	return cap(p.sem)
}

func (p *WorkerPool) InFlight() int {
	return len(p.sem)
}
