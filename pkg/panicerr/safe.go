package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

// Safe wraps a function that returns an error, catching any panics and returning them as an error.
func Safe(fn func() error) func() error {
	return func() error {
		return Call(fn)
	}
}

// SafeContext wraps a function that takes a context and returns an error.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return Call(func() error { return fn(ctx) })
	}
}

// Call runs fn and converts a recovered panic into a *panics.ErrRecovered.
func Call(fn func() error) error {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() {
		err = fn()
	})
	if r := catcher.Recovered(); r != nil {
		return r.AsError()
	}
	return err
}

// CallValue is Call for functions that also produce a value. The zero value
// is returned together with the error when fn panics.
func CallValue[T any](fn func() (T, error)) (T, error) {
	var v T
	err := Call(func() error {
		var err error
		v, err = fn()
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
