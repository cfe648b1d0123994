// Package workers provides the worker pool for post-upload background
// processing (thumbnails, scanning, index writes).
package workers

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// Task represents a unit of work for the worker pool.
type Task struct {
	Name    string
	Execute func() error
}

// Pool manages a fixed set of worker goroutines draining a task queue.
type Pool struct {
	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates and starts a pool with the given worker count and queue size.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	log.Infof("Worker pool started: %d workers, queue size %d", workers, queueSize)
	return p
}

// Submit enqueues a task. When the queue is full the task runs inline so
// uploads never block on background work.
func (p *Pool) Submit(t Task) {
	select {
	case p.tasks <- t:
	default:
		log.Debugf("worker queue full, running task %s inline", t.Name)
		p.run(t)
	}
}

// Stop drains the queue and stops all workers.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-p.tasks:
			p.run(t)
		}
	}
}

func (p *Pool) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker task %s panicked: %v", t.Name, r)
		}
	}()
	if err := t.Execute(); err != nil {
		log.Warnf("worker task %s failed: %v", t.Name, err)
	}
}
