package session

// State is the controller's position in the authorization lifecycle.
type State int

const (
	Unauthenticated State = iota
	AuthorizingSignIn
	AuthorizingSignUp
	Authenticated
)

func (s State) String() string {
	switch s {
	case AuthorizingSignIn:
		return "authorizing_sign_in"
	case AuthorizingSignUp:
		return "authorizing_sign_up"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Authorizing reports whether an interactive attempt is in flight.
func (s State) Authorizing() bool {
	return s == AuthorizingSignIn || s == AuthorizingSignUp
}
