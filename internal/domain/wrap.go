package domain

import "fmt"

func wrap(sentinel error, detail string) error {
	return fmt.Errorf("%w: %s", sentinel, detail)
}

// Wrap attaches detail to a sentinel while keeping errors.Is working.
func Wrap(sentinel error, format string, args ...interface{}) error {
	return wrap(sentinel, fmt.Sprintf(format, args...))
}
