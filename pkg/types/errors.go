package types

import "errors"

// ErrNotReady is returned by engine operations invoked outside the Ready state
var ErrNotReady = errors.New("engine is not ready")
