// Package pipeline runs the ordered steps of a build over shared state.
package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Step is one stage of a build. Run mutates the shared state and returns an
// error when the build must stop.
type Step[S any] interface {
	Name() string
	Run(ctx context.Context, state S) error
}

// FuncStep adapts a function to a Step.
type FuncStep[S any] struct {
	name string
	fn   func(context.Context, S) error
}

func (s FuncStep[S]) Name() string { return s.name }

func (s FuncStep[S]) Run(ctx context.Context, state S) error { return s.fn(ctx, state) }

// Func returns a step called name running fn.
func Func[S any](name string, fn func(context.Context, S) error) FuncStep[S] {
	return FuncStep[S]{name: name, fn: fn}
}

// Pipeline runs steps in the order they were added.
type Pipeline[S any] struct {
	steps []Step[S]

	// Trace, if set, is called after every step that ran.
	Trace func(name string, took time.Duration, err error)
}

// New returns a pipeline of steps.
func New[S any](steps ...Step[S]) *Pipeline[S] {
	return &Pipeline[S]{steps: steps}
}

// Add appends a step.
func (p *Pipeline[S]) Add(step Step[S]) {
	p.steps = append(p.steps, step)
}

// Names lists the step names in order.
func (p *Pipeline[S]) Names() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Execute runs every step in order. The first error, or the cancellation of
// ctx between steps, stops the pipeline; the error names the step.
func (p *Pipeline[S]) Execute(ctx context.Context, state S) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("before %s: %w", step.Name(), err)
		}
		start := time.Now()
		err := step.Run(ctx, state)
		if p.Trace != nil {
			p.Trace(step.Name(), time.Since(start), err)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", step.Name(), err)
		}
	}
	return nil
}
