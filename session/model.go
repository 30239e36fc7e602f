package session

// Record is the value stored against a refresh token.
type Record struct {
	Identity  string
	ClientIP  string
	CreatedAt int64
}
