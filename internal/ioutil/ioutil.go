// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package ioutil

import (
	"errors"
	"fmt"
	"io"
)

// CloseError wraps the failure to close a file once it has been read.
type CloseError struct {
	Cause error
}

func (e CloseError) Error() string {
	return fmt.Sprintf("failed to close file: %s", e.Cause)
}

func (e CloseError) Unwrap() error {
	return e.Cause
}

// TryClose closes v if it is an io.Closer and joins any failure with the
// error already held in err. It is meant to be deferred.
func TryClose(err *error, v any) {
	c, ok := v.(io.Closer)
	if !ok || c == nil {
		return
	}

	closeErr := c.Close()
	if closeErr == nil {
		return
	}

	cerr := CloseError{Cause: closeErr}
	if *err == nil {
		*err = cerr
		return
	}
	*err = errors.Join(*err, cerr)
}
