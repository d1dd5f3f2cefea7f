// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nselect

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput means the supplied statistics cannot be
	// trusted: n values out of order, out-of-range identities, too
	// few data points, or a floor above the ceiling.
	ErrMalformedInput = errors.New("malformed input")

	// ErrMissingBaseline means the floor or ceiling measurement is
	// absent, so relative gain is undefined.
	ErrMissingBaseline = errors.New("missing baseline")
)

// SampleError attaches the offending sample ID to one of the error
// kinds above. Use errors.Is to test the kind.
type SampleError struct {
	Sample string
	Err    error
	Detail string
}

func (e *SampleError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("sample %q: %s", e.Sample, e.Err)
	}
	return fmt.Sprintf("sample %q: %s: %s", e.Sample, e.Err, e.Detail)
}

func (e *SampleError) Unwrap() error { return e.Err }

func malformed(sample, format string, args ...interface{}) error {
	return &SampleError{Sample: sample, Err: ErrMalformedInput, Detail: fmt.Sprintf(format, args...)}
}
