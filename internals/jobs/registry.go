package jobs

import (
	"context"
	"fmt"
	"io"
	"sort"
)

// RunFunc executes a job, writing any textual output to log. The returned
// code becomes the task's exit code; a non-nil error marks the task failed.
type RunFunc func(ctx context.Context, log io.Writer, args map[string]string) (int, error)

// Job binds a stable identifier to a handler. Job mode launches resolve
// handlers through a registry populated at startup instead of dispatching on
// arbitrary strings at run time.
type Job struct {
	ID  string
	Run RunFunc
}

type Registry struct {
	jobs map[string]Job
}

func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{jobs: make(map[string]Job, len(jobs))}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %q has nil Run handler", job.ID)
	}
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("duplicate job id: %q", job.ID)
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *Registry) Resolve(id string) (Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("unknown job id: %q", id)
	}
	return job, nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
