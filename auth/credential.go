// Package auth holds the client's local belief about authentication state.
//
// The authority is an HttpOnly session cookie held by the server-side session;
// what this package tracks is only a hint used to show or hide authenticated
// affordances and to decide how outgoing requests carry credentials.
package auth

// Kind identifies which representation a Credential uses.
type Kind int

const (
	// KindUnknown is reported before the store has been hydrated. It is
	// distinct from KindNone so callers can avoid flashing a signed-out UI.
	KindUnknown Kind = iota
	KindNone
	// KindCookieSession relies on the stored session cookie; no
	// Authorization header is sent.
	KindCookieSession
	// KindBearer carries an explicit token in the Authorization header.
	KindBearer
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCookieSession:
		return "cookie-session"
	case KindBearer:
		return "bearer"
	default:
		return "unknown"
	}
}

// Credential is a comparable value; use == to test equality.
type Credential struct {
	kind  Kind
	token string
}

func Unknown() Credential { return Credential{kind: KindUnknown} }

func None() Credential { return Credential{kind: KindNone} }

func CookieSession() Credential { return Credential{kind: KindCookieSession} }

// Bearer returns a bearer credential, or None for an empty token.
func Bearer(token string) Credential {
	if token == "" {
		return None()
	}
	return Credential{kind: KindBearer, token: token}
}

func (c Credential) Kind() Kind { return c.kind }

// Token returns the bearer token, or "" for every other kind.
func (c Credential) Token() string { return c.token }

func (c Credential) IsKnown() bool { return c.kind != KindUnknown }

func (c Credential) IsAuthenticated() bool {
	return c.kind == KindCookieSession || c.kind == KindBearer
}

// String never includes the token.
func (c Credential) String() string {
	return c.kind.String()
}
