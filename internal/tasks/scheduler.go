// Package tasks runs multi-step effect chains owned by actors. Chains advance
// in ticks on the shard that owns the actor and are cancelled as a group when
// the actor is destroyed.
package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/sasha-s/go-deadlock"

	"mirage/server/internal/telemetry"
)

var ErrOwnerCancelled = errors.New("tasks: owner cancelled")

const (
	metricChainsFailed    = "tasks_chain_failures_total"
	metricChainsCancelled = "tasks_chain_cancelled_total"
)

// StepFunc performs one step. ctx is cancelled when the owner is destroyed.
type StepFunc func(ctx context.Context, tick uint64) error

type Step struct {
	// Delay is the number of ticks to wait after the previous step.
	Delay uint64
	Run   StepFunc
}

type Chain struct {
	Name  string
	Steps []Step
	// AfterDeath lets the chain keep running once its owner has died.
	AfterDeath bool
}

type pending struct {
	chain Chain
	next  int
	due   uint64
}

type owner struct {
	ctx     context.Context
	cancel  context.CancelFunc
	pending []*pending
}

// Scheduler holds the outstanding chains of every owner.
type Scheduler struct {
	mu      deadlock.Mutex
	owners  map[string]*owner
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

func NewScheduler(logger telemetry.Logger, metrics telemetry.Metrics) *Scheduler {
	if metrics == nil {
		metrics = telemetry.NopMetrics{}
	}
	return &Scheduler{
		owners:  make(map[string]*owner),
		logger:  logger,
		metrics: metrics,
	}
}

// Schedule registers chain for ownerID with its first step due Delay ticks
// after tick.
func (s *Scheduler) Schedule(ownerID string, chain Chain, tick uint64) error {
	if s == nil {
		return ErrOwnerCancelled
	}
	if ownerID == "" {
		return fmt.Errorf("tasks: schedule %q: empty owner", chain.Name)
	}
	if len(chain.Steps) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owners[ownerID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		o = &owner{ctx: ctx, cancel: cancel}
		s.owners[ownerID] = o
	}
	o.pending = append(o.pending, &pending{chain: chain, due: tick + chain.Steps[0].Delay})
	return nil
}

// RunDue executes every step of ownerID that is due at tick. alive reports
// whether the owner is still alive; chains not marked AfterDeath are dropped
// once it is not. It returns the number of steps run.
func (s *Scheduler) RunDue(ownerID string, tick uint64, alive bool) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	o, ok := s.owners[ownerID]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	ctx := o.ctx
	var due []*pending
	kept := o.pending[:0]
	for _, p := range o.pending {
		if p.due <= tick {
			due = append(due, p)
		} else {
			kept = append(kept, p)
		}
	}
	o.pending = kept
	s.mu.Unlock()

	ran := 0
	var requeue []*pending
	for _, p := range due {
		n, keep := s.advance(ctx, p, tick, alive)
		ran += n
		if keep {
			requeue = append(requeue, p)
		}
	}

	s.mu.Lock()
	if current, ok := s.owners[ownerID]; ok && current == o {
		o.pending = append(o.pending, requeue...)
		if len(o.pending) == 0 {
			o.cancel()
			delete(s.owners, ownerID)
		}
	}
	s.mu.Unlock()
	return ran
}

// advance runs consecutive steps of p that are due and reports whether p
// still has steps left.
func (s *Scheduler) advance(ctx context.Context, p *pending, tick uint64, alive bool) (int, bool) {
	ran := 0
	for p.next < len(p.chain.Steps) && p.due <= tick {
		if ctx.Err() != nil || (!alive && !p.chain.AfterDeath) {
			s.metrics.Add(metricChainsCancelled, 1)
			return ran, false
		}
		step := p.chain.Steps[p.next]
		p.next++
		ran++
		if step.Run != nil {
			if err := step.Run(ctx, tick); err != nil {
				s.metrics.Add(metricChainsFailed, 1)
				if s.logger != nil {
					s.logger.Printf("[tasks] chain %s failed at step %d: %v", p.chain.Name, p.next, err)
				}
				return ran, false
			}
		}
		if p.next < len(p.chain.Steps) {
			p.due = tick + p.chain.Steps[p.next].Delay
		}
	}
	return ran, p.next < len(p.chain.Steps)
}

// CancelOwner cancels every outstanding chain of ownerID and returns how many
// were dropped. Other owners are unaffected.
func (s *Scheduler) CancelOwner(ownerID string) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	o, ok := s.owners[ownerID]
	if ok {
		delete(s.owners, ownerID)
	}
	s.mu.Unlock()
	if !ok {
		return 0
	}
	o.cancel()
	s.metrics.Add(metricChainsCancelled, uint64(len(o.pending)))
	return len(o.pending)
}

// Pending returns the number of chains waiting for ownerID.
func (s *Scheduler) Pending(ownerID string) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.owners[ownerID]; ok {
		return len(o.pending)
	}
	return 0
}

// Owners returns the number of owners with outstanding chains.
func (s *Scheduler) Owners() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.owners)
}
