package auth

// CredentialsProvider is a generic interface for a service that provides
// the basic auth credentials for the client to use
type CredentialsProvider interface {

	// Retrieves the current credentials at the time - this may return a
	// fixed or cached value, or it may go and do some work to acquire
	// the latest valid pair. ok is false for anonymous access.
	Credentials() (user, password string, ok bool)
}

// Anonymous never returns credentials.
type Anonymous struct{}

func (Anonymous) Credentials() (string, string, bool) {
	return "", "", false
}
