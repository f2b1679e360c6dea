package debug

import (
	"fmt"
	"runtime/debug"
)

var (
	ErrPanic = fmt.Errorf("panic")
)

type PanicErrorMessage struct {
	Msg        interface{}
	Inner      string
	Stacktrace []byte
}

func (e *PanicErrorMessage) Error() string {
	return e.Inner
}

func (e *PanicErrorMessage) Unwrap() []error {
	return []error{ErrPanic}
}

// WrapPanic runs fn and converts any panic it raises into a
// *PanicErrorMessage carrying msg (typically the datagram being processed)
// instead of letting it crash the collector.
func WrapPanic(msg interface{}, fn func() error) (err error) {
	defer func() {
		if pErr := recover(); pErr != nil {
			pErrC, _ := pErr.(string)
			err = &PanicErrorMessage{Msg: msg, Inner: pErrC, Stacktrace: debug.Stack()}
		}
	}()
	return fn()
}
