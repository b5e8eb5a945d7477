package helper

import "fmt"

// AssertionError is the panic value of a violated contract.
// It signals a bug in the caller or a protocol violation.
type AssertionError struct {
	Message string
}

func (a *AssertionError) Error() string {
	return "assertion failed: " + a.Message
}

// Assert panics with an AssertionError when the condition is false.
func Assert(condition bool, format string, args ...interface{}) {
	if !condition {
		Fail(format, args...)
	}
}

func Fail(format string, args ...interface{}) {
	panic(&AssertionError{Message: fmt.Sprintf(format, args...)})
}
