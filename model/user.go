package model

// User is the identity a queue is namespaced by.
type User struct {
	UID string
}

// Unauthenticated is the identity used before sign-in.
var Unauthenticated = User{}

func (u User) IsAuthenticated() bool { return u.UID != "" }

func (u User) String() string {
	if !u.IsAuthenticated() {
		return "<unauthenticated>"
	}
	return u.UID
}
