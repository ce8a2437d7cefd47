package frontier

import "errors"

// ErrShutdown is returned by Next once the frontier has been shut
// down and the heap has drained.
var ErrShutdown = errors.New("frontier: shut down")
