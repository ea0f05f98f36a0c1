package privacy

// scrubbedError reports a scrubbed message but keeps the original error in
// the chain for errors.Is and errors.As.
type scrubbedError struct {
	cause error
	msg   string
}

func (e *scrubbedError) Error() string { return e.msg }

func (e *scrubbedError) Unwrap() error { return e.cause }

// WrapError returns err with broker URLs, credentials and endpoint ids
// scrubbed from its message. Already scrubbed errors are returned as is.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*scrubbedError); ok {
		return err
	}
	return &scrubbedError{cause: err, msg: ScrubMessage(err.Error())}
}
