// Package iox provides cleanup helpers for the node's closable resources
// (publishers, subscribers, sources, journals).
package iox

import (
	"errors"
	"io"
)

// DiscardClose closes c and drops the error. Nil closers are ignored.
//
//	defer iox.DiscardClose(pub)
func DiscardClose(c io.Closer) {
	if c == nil {
		return
	}
	_ = c.Close()
}

// CloseFunc returns a func that closes c, for t.Cleanup registration.
func CloseFunc(c io.Closer) func() {
	return func() { DiscardClose(c) }
}

// CloseAll closes every non-nil closer in reverse order, so resources opened
// first are released last, and joins the errors.
func CloseAll(closers ...io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] == nil {
			continue
		}
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a close function to io.Closer.
type Func func() error

// Close calls f.
func (f Func) Close() error { return f() }
