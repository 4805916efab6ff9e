package auth

// Error is an authentication failure. AskCredentials is set when the
// request carried no credentials at all, so the caller can decide
// whether to prompt rather than outright reject.
type Error struct {
	Message        string
	AskCredentials bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return "authentication failed: " + e.Message
}
