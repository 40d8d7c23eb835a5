package detect

import "context"

// unavailable stands in for a backend that failed to load.
type unavailable struct {
	name string
	err  error
}

// Unavailable returns a Detector whose every call fails with
// ErrModelUnavailable wrapping cause. It lets the loop keep running with zero
// counts when the local model cannot be loaded.
func Unavailable(name string, cause error) Detector {
	return &unavailable{name: name, err: cause}
}

func (u *unavailable) Name() string { return u.name }

func (u *unavailable) Detect(ctx context.Context, jpeg []byte) ([]Object, error) {
	if u.err == nil {
		return nil, WrapError(u.name, ErrModelUnavailable)
	}
	return nil, WrapError(u.name, &modelError{cause: u.err})
}

func (u *unavailable) Close() error { return nil }

// modelError matches ErrModelUnavailable and carries the load failure.
type modelError struct {
	cause error
}

func (e *modelError) Error() string { return ErrModelUnavailable.Error() + ": " + e.cause.Error() }

func (e *modelError) Is(target error) bool { return target == ErrModelUnavailable }

func (e *modelError) Unwrap() error { return e.cause }
