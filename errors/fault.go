package errors

// Throw raises err as a fault. Faults unwind to the nearest Catch, which is
// normally the environment's trap boundary.
func Throw(err *Error) {
	panic(err)
}

// Catch runs fn and converts a fault raised inside it into a returned error.
// Panics that are not faults keep unwinding.
func Catch(fn func()) (err *Error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := AsFault(r)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()
	fn()
	return nil
}

// AsFault reports whether a recovered panic value is a fault.
func AsFault(r any) (*Error, bool) {
	e, ok := r.(*Error)
	return e, ok
}
