package host

import "errors"

// Host errors.
var (
	ErrModuleNotFound       = errors.New("module not found")
	ErrModuleExists         = errors.New("module already installed")
	ErrFragmentNotStartable = errors.New("fragments cannot be started")
	ErrModuleTransitioning  = errors.New("module is changing state")
	ErrFeatureNotFound      = errors.New("feature not found")
	ErrFeatureExists        = errors.New("feature already defined")
	ErrInvalidFeatureVer    = errors.New("invalid feature version")
	ErrConfigurationDeleted = errors.New("configuration has been deleted")
	ErrConfigurationMissing = errors.New("configuration not found")
	ErrEmptyPID             = errors.New("pid must not be empty")
	ErrInvalidFilter        = errors.New("invalid service filter")
	ErrServiceExists        = errors.New("service already registered for pid")
	ErrHostClosed           = errors.New("host is closed")
	ErrNilObserver          = errors.New("observer is nil")
)
