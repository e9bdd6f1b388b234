package presence

import "errors"

var (
	ErrCoordinatorAlreadyRunning = errors.New("coordinator is already running")
	ErrCoordinatorNotRunning     = errors.New("coordinator is not running")
	ErrMissingDependency         = errors.New("missing coordinator dependency")
)
