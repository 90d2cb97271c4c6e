package sink

import (
	"context"
	"os"

	"codeberg.org/mutker/modemtemp/internal/errors"
	"go.uber.org/atomic"
)

// FileSink writes the payload text to a sysfs-style file. Files are never
// created: a missing target is a failure for this sink only.
type FileSink struct {
	name     string
	resolver Resolver

	// pending is set while a write that outlived its deadline is still
	// blocked in the kernel
	pending atomic.Bool
}

// NewFileSink writes to a fixed path
func NewFileSink(name, path string) *FileSink {
	return NewResolvedFileSink(name, StaticPath(path))
}

// NewResolvedFileSink writes to whatever r resolves
func NewResolvedFileSink(name string, r Resolver) *FileSink {
	return &FileSink{
		name:     name,
		resolver: r,
	}
}

func (f *FileSink) Name() string {
	return f.name
}

func (f *FileSink) Write(ctx context.Context, p Payload) error {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	path, err := f.resolver.Resolve()
	if err != nil {
		return errFactory.Wrap(ErrTargetNotFound, err).WithData(f.name)
	}

	if !f.pending.CompareAndSwap(false, true) {
		return errFactory.WithData(ErrWritePending, path)
	}

	result := make(chan error, 1)
	go func() {
		err := WriteFile(path, p.String())
		f.pending.Store(false)
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			f.resolver.Invalidate()
			return errFactory.Wrap(ErrWriteFailed, err).WithData(path)
		}
		return nil
	case <-ctx.Done():
		return errFactory.Wrap(ErrWriteFailed, ctx.Err()).WithData(path)
	}
}

// WriteFile writes value to an existing file
func WriteFile(path, value string) error {
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}

	if _, err := fh.WriteString(value); err != nil {
		fh.Close()
		return err
	}

	return fh.Close()
}
