package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
	pkgerrors "github.com/psdigitalweb/wb-automation-sub001/pkg/errors"
)

// JobRequest identifies the run a job implementation is executing for.
type JobRequest struct {
	RunID       uuid.UUID
	TenantID    uuid.UUID
	Marketplace enums.Marketplace
	JobCode     string
	// PeriodFrom/PeriodTo default to the run's trailing reporting window
	// when the trigger did not carry explicit bounds.
	PeriodFrom time.Time
	PeriodTo   time.Time
}

// JobFunc is one registered job implementation. A returned error means the
// job blew up; a Fail result means it completed and reported failure.
type JobFunc func(ctx context.Context, req JobRequest) (Result, error)

// Registry resolves job implementations by (marketplace, job code).
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]JobFunc
}

// NewRegistry returns an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: map[string]JobFunc{}}
}

func registryKey(marketplace enums.Marketplace, jobCode string) string {
	return string(marketplace) + "/" + jobCode
}

// Register adds a job implementation. Duplicate registration panics: it is
// a wiring bug, not a runtime condition.
func (r *Registry) Register(marketplace enums.Marketplace, jobCode string, fn JobFunc) {
	if fn == nil {
		panic("executor: nil job func")
	}
	key := registryKey(marketplace, jobCode)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[key]; exists {
		panic(fmt.Sprintf("executor: job %s registered twice", key))
	}
	r.jobs[key] = fn
}

// Resolve returns the implementation for the key. Unknown job codes are a
// distinct, non-retryable failure kind.
func (r *Registry) Resolve(marketplace enums.Marketplace, jobCode string) (JobFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.jobs[registryKey(marketplace, jobCode)]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeJobNotFound,
			fmt.Sprintf("no job registered for %s/%s", marketplace, jobCode))
	}
	return fn, nil
}

// Keys lists registered (marketplace, job) keys, sorted, for diagnostics.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.jobs))
	for key := range r.jobs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
