package auth

// Session identifies the authenticated caller of a core operation. It is
// created at sign-in, reconstructed from each request's bearer token, and
// passed explicitly to every service method that acts on behalf of a user.
type Session struct {
	UserID   string
	Username string
}
