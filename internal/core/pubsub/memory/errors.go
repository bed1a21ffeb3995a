// Package memory delivers task events to in-process subscribers when no
// external broker is configured.
package memory

import "errors"

// ErrEngineClosed is returned when operating on a closed engine.
var ErrEngineClosed = errors.New("engine is closed")
