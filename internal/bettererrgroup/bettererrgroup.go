package bettererrgroup

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Group is an [errgroup.Group] whose goroutines carry a name, and which turns
// a panic in any of them into a [PanicError] holding that name and the stack
// of the panicking goroutine. The original [errgroup.Group] reports the stack
// of the `Wait()` call, which is much less useful.
type Group struct {
	*errgroup.Group
}

func WithContext(ctx context.Context) (*Group, context.Context) {
	group, ctx := errgroup.WithContext(ctx)
	return &Group{Group: group}, ctx
}

// PanicError is returned by Wait when a goroutine panicked.
type PanicError struct {
	Name      string
	recovered any
	stack     string
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v\n%s", e.Name, e.recovered, e.stack)
}

func (e PanicError) Unwrap() error {
	wrappedError, ok := e.recovered.(error)
	if !ok {
		return nil
	}
	return wrappedError
}

func (e PanicError) Recovered() any {
	return e.recovered
}

func (e PanicError) Stack() string {
	return e.stack
}

// Go runs f in a new goroutine named name.
func (g *Group) Go(name string, f func() error) {
	g.Group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = PanicError{Name: name, recovered: r, stack: string(debug.Stack())}
			}
		}()
		return f()
	})
}
