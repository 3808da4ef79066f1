package credentials

// credential is the password credential of one user, joined with the
// user's email. Every user has at most one.
type credential struct {
	userID      string
	hash        string
	hashVersion string
}
