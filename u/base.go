package u

import (
	"fmt"
)

// Must panics if err is not nil
func Must(err error) {
	if err != nil {
		panic(err)
	}
}

// PanicIf panics if cond is true. args[0] is a format string for args[1:]
func PanicIf(cond bool, args ...any) {
	if !cond {
		return
	}
	s := "condition failed"
	if len(args) > 0 {
		s = fmt.Sprintf("%s", args[0])
		if len(args) > 1 {
			s = fmt.Sprintf(s, args[1:]...)
		}
	}
	panic(s)
}
