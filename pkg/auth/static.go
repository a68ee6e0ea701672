package auth

// Static is a CredentialsProvider wrapper for a fixed user and password
type Static struct {
	user     string
	password string
}

func NewStatic(user, password string) *Static {
	return &Static{user: user, password: password}
}

func (s *Static) Credentials() (string, string, bool) {
	return s.user, s.password, s.user != ""
}
