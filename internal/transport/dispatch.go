package transport

import "sync"

// dispatcher runs jobs for one key strictly in submit order, and jobs for
// different keys concurrently. A key's worker exits when its queue empties.
type dispatcher struct {
	mu     sync.Mutex
	queues map[string][]func()
}

func newDispatcher() *dispatcher {
	return &dispatcher{queues: make(map[string][]func())}
}

func (d *dispatcher) submit(key string, job func()) {
	d.mu.Lock()
	q, running := d.queues[key]
	d.queues[key] = append(q, job)
	d.mu.Unlock()
	if !running {
		go d.drain(key)
	}
}

func (d *dispatcher) drain(key string) {
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		job := q[0]
		d.queues[key] = q[1:]
		d.mu.Unlock()
		job()
	}
}

// active is the number of keys with a running worker.
func (d *dispatcher) active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}
