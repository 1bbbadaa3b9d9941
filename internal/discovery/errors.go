package discovery

import "errors"

// ErrLockHeld is returned by AcquireLock when another process already holds
// the cross-process startup lock.
var ErrLockHeld = errors.New("discovery: lock already held by another process")

// ErrPortRangeExhausted is returned when no port in [7741, 7750] is free.
var ErrPortRangeExhausted = errors.New("discovery: no free port in reserved range")
