package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/eida/wfcc/cmd"
	"github.com/eida/wfcc/internal/output"
)

var errInterrupted = errors.New("interrupted")

func main() {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-signals; ok {
			cancel(errInterrupted)
		}
	}()

	err := cmd.ExecuteContext(ctx)
	signal.Stop(signals)
	close(signals)
	if err != nil {
		output.Error(os.Stderr, err)
		os.Exit(cmd.ExitCode(err))
	}
}
