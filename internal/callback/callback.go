// Package callback implements the response callback pipeline described in
// spec.md §4.6: a sequence of user functions run over each response in
// order, with results optionally collected. It is generic over the
// response type so it carries no dependency on the root ratecache package
// (which in turn depends on this one), matching the generic-helper idiom
// used elsewhere in the example pool rather than threading an `any` or a
// duplicate response shape through the pipeline.
package callback

import (
	"fmt"

	"go-ratecache/internal/apperror"
)

// Func is one callback: it observes a response and optionally returns a
// value to collect.
type Func[T any] func(T) (any, error)

// Pipeline runs a fixed, ordered sequence of callbacks over each response
// it is given.
type Pipeline[T any] struct {
	fns []Func[T]
}

// New constructs a Pipeline running fns in the given order.
func New[T any](fns ...Func[T]) *Pipeline[T] {
	return &Pipeline[T]{fns: fns}
}

// Run invokes every callback with resp, in order. If collect is true, the
// return value (or wrapped error) of each callback is appended to the
// returned slice; otherwise it returns nil and only executes callbacks for
// their side effects. A callback that panics or returns a non-nil error is
// treated as if it returned an *apperror.CallbackError wrapping the
// failure (spec.md §4.6's "sentinel CallbackError"); the pipeline always
// continues to the next callback.
func (p *Pipeline[T]) Run(resp T, collect bool) []any {
	if len(p.fns) == 0 {
		return nil
	}
	var results []any
	if collect {
		results = make([]any, 0, len(p.fns))
	}
	for _, fn := range p.fns {
		result := p.invoke(fn, resp)
		if collect {
			results = append(results, result)
		}
	}
	return results
}

func (p *Pipeline[T]) invoke(fn Func[T], resp T) (result any) {
	defer func() {
		if r := recover(); r != nil {
			result = &apperror.CallbackError{Err: fmt.Errorf("callback panicked: %v", r)}
		}
	}()
	v, err := fn(resp)
	if err != nil {
		return &apperror.CallbackError{Err: err}
	}
	return v
}
