package model

import "errors"

// ErrFatalStorage marks a storage error as fatal (schema/constraint,
// not a transient connection hiccup). internal/storage wraps the
// Postgres errors it classifies this way; internal/scheduler checks
// for it with errors.Is to decide whether to persist is_running=false
// and stop the loop instead of logging and continuing.
var ErrFatalStorage = errors.New("model: fatal storage error")
