package store

import "errors"

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("room store is closed")
