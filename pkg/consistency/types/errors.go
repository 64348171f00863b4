package types

import (
	"errors"
	"fmt"
)

// ConfigError reports invalid run parameters. Nothing is persisted when a run
// fails with it.
type ConfigError struct {
	Field  string
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SourceError reports that one of the reference sources (metadata or catalog)
// could not be read. It is always fatal for a run.
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s source unavailable: %v", e.Source, e.Err)
}

func (e SourceError) Unwrap() error {
	return e.Err
}

// FileError is a recoverable failure on a single archive file.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// FileErrors aggregates the per-file failures of a run.
type FileErrors []FileError

func (fe FileErrors) Error() string {
	switch len(fe) {
	case 0:
		return "no file errors"
	case 1:
		return fe[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more file errors)", fe[0].Error(), len(fe)-1)
	}
}

func (fe FileErrors) Unwrap() []error {
	errs := make([]error, 0, len(fe))
	for _, e := range fe {
		errs = append(errs, e)
	}
	return errs
}

// IsFatal reports whether err must abort a run.
func IsFatal(err error) bool {
	var srcErr SourceError
	var cfgErr ConfigError
	return errors.As(err, &srcErr) || errors.As(err, &cfgErr)
}
