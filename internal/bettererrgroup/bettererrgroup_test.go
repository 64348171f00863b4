package bettererrgroup_test

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eida/wfcc/internal/bettererrgroup"
)

func doSomePanicking() error {
	panic("test panic")
}

func TestGroup(t *testing.T) {
	t.Run("captures panics with the goroutine name", func(t *testing.T) {
		eg, ctx := bettererrgroup.WithContext(t.Context())
		eg.Go("worker-1", doSomePanicking)
		err := eg.Wait()

		var pErr bettererrgroup.PanicError
		require.ErrorAs(t, err, &pErr)
		require.Equal(t, "worker-1", pErr.Name)
		require.Equal(t, "test panic", pErr.Recovered())
		require.Regexp(t, regexp.MustCompile(`bettererrgroup_test\.doSomePanicking\(\)`), pErr.Stack())
		require.Contains(t, pErr.Error(), "panic in worker-1: test panic")
		require.Error(t, ctx.Err())
	})

	t.Run("unwraps panicked errors", func(t *testing.T) {
		boom := errors.New("boom")
		eg, _ := bettererrgroup.WithContext(t.Context())
		eg.Go("producer", func() error { panic(boom) })
		require.ErrorIs(t, eg.Wait(), boom)
	})

	t.Run("returns plain errors unchanged", func(t *testing.T) {
		boom := errors.New("boom")
		eg, _ := bettererrgroup.WithContext(t.Context())
		eg.Go("producer", func() error { return boom })
		eg.Go("worker-1", func() error { return nil })
		require.Equal(t, boom, eg.Wait())
	})
}
