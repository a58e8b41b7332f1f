package scheduler

import (
	"context"
	"sync"
	"time"
)

// Manual never fires on its own. Fire runs tasks synchronously, which lets
// tests drive scheduled work tick by tick.
type Manual struct {
	mu   sync.Mutex
	jobs []*ManualJob
}

type ManualJob struct {
	Name     string
	Interval time.Duration

	task      Task
	mu        sync.Mutex
	cancelled bool
}

func (j *ManualJob) Cancel() {
	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()
}

func (j *ManualJob) Active() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.cancelled
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Schedule(name string, interval time.Duration, task Task) Handle {
	j := &ManualJob{Name: name, Interval: interval, task: task}
	m.mu.Lock()
	m.jobs = append(m.jobs, j)
	m.mu.Unlock()
	return j
}

func (m *Manual) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		j.Cancel()
	}
}

// Fire runs every active job with the given name and returns how many ran.
func (m *Manual) Fire(ctx context.Context, name string) int {
	n := 0
	for _, j := range m.Jobs(name) {
		if j.Active() {
			j.task(ctx)
			n++
		}
	}
	return n
}

// Jobs returns every job scheduled under name, cancelled ones included.
func (m *Manual) Jobs(name string) []*ManualJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ManualJob
	for _, j := range m.jobs {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}

// ActiveJobs counts jobs that have not been cancelled.
func (m *Manual) ActiveJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Active() {
			n++
		}
	}
	return n
}
