package common

import (
	"context"
	"errors"
	"fmt"

	"xficredit/core/state"
)

// Journal records undo closures for in-memory mutations so that a failed
// operation can restore the exact prior state.
type Journal struct {
	undo []func()
}

// Record appends an undo step.
func (j *Journal) Record(fn func()) {
	if j == nil || fn == nil {
		return
	}
	j.undo = append(j.undo, fn)
}

// Revert applies the undo steps in reverse order and clears the journal.
func (j *Journal) Revert() {
	if j == nil {
		return
	}
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// Len reports the number of recorded steps.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return len(j.undo)
}

// Transfer is one value movement with its compensating action.
type Transfer struct {
	Name       string
	Apply      func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// TransferPlan executes value movements in order. If a leg fails, the legs
// that already succeeded are compensated in reverse.
type TransferPlan struct {
	steps   []Transfer
	applied int
}

// Add appends a leg to the plan.
func (p *TransferPlan) Add(name string, apply, compensate func(ctx context.Context) error) {
	p.steps = append(p.steps, Transfer{Name: name, Apply: apply, Compensate: compensate})
}

// Len reports the number of legs.
func (p *TransferPlan) Len() int { return len(p.steps) }

// Execute applies every leg. On failure the applied legs are compensated and
// the returned error wraps the original failure together with any
// compensation failure.
func (p *TransferPlan) Execute(ctx context.Context) error {
	for i, step := range p.steps {
		if err := step.Apply(ctx); err != nil {
			failure := fmt.Errorf("%s: %w", step.Name, err)
			if cerr := p.Compensate(ctx); cerr != nil {
				return errors.Join(failure, cerr)
			}
			return failure
		}
		p.applied = i + 1
	}
	return nil
}

// Compensate reverses the legs applied so far.
func (p *TransferPlan) Compensate(ctx context.Context) error {
	var errs []error
	for i := p.applied - 1; i >= 0; i-- {
		step := p.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate %s: %w", step.Name, err))
		}
	}
	p.applied = 0
	return errors.Join(errs...)
}

// Settle runs the transfer plan and then commits the records produced by
// write in a single batch. A failed transfer reverts the journal. A failed
// commit compensates the executed transfers before reverting.
func Settle(ctx context.Context, journal *Journal, plan *TransferPlan, store state.Store, write func(*state.Batch)) error {
	if plan != nil {
		if err := plan.Execute(ctx); err != nil {
			journal.Revert()
			return err
		}
	}
	if store == nil || write == nil {
		return nil
	}
	batch := store.NewBatch()
	write(batch)
	if err := batch.Commit(); err != nil {
		failure := fmt.Errorf("%w: %v", ErrPersist, err)
		var cerr error
		if plan != nil {
			cerr = plan.Compensate(ctx)
		}
		journal.Revert()
		return errors.Join(failure, cerr)
	}
	return nil
}
