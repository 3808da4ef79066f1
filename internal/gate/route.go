package gate

import (
	"path"
	"strings"
)

// RouteClass partitions routes into public and protected.
type RouteClass int

const (
	Public RouteClass = iota
	Protected
)

func (c RouteClass) String() string {
	if c == Public {
		return "public"
	}
	return "protected"
}

// publicPrefixes match a whole path segment: "/login" covers "/login"
// and "/login/x" but not "/loginx". "/" itself is matched exactly.
var publicPrefixes = []string{
	"/login",
	"/signup",
	"/nfc-cards",
	"/forgot-password",
	"/reset-password",
	"/auth",
	"/oauth",
	"/health",
	"/u",
}

// Classify returns the class of a request path. Paths are cleaned first,
// so "/login/../dashboard" is protected.
func Classify(p string) RouteClass {
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)

	if p == "/" {
		return Public
	}
	for _, prefix := range publicPrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return Public
		}
	}
	return Protected
}

// DecisionKind is what the gate does with a request.
type DecisionKind int

const (
	Allow DecisionKind = iota
	RedirectToLogin
	ShowPlaceholder
)

func (k DecisionKind) String() string {
	switch k {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect-to-login"
	case ShowPlaceholder:
		return "show-placeholder"
	default:
		return "unknown"
	}
}

// PlaceholderKind says which placeholder to show.
type PlaceholderKind int

const (
	NoPlaceholder PlaceholderKind = iota
	Authenticating
	ProvisioningProfile
)

func (k PlaceholderKind) String() string {
	switch k {
	case Authenticating:
		return "authenticating"
	case ProvisioningProfile:
		return "provisioning-profile"
	default:
		return ""
	}
}

// Decision is the outcome of Decide. ReturnPath is set for
// RedirectToLogin, Placeholder for ShowPlaceholder, and Err whenever the
// session is Errored.
type Decision struct {
	Kind        DecisionKind
	ReturnPath  string
	Placeholder PlaceholderKind
	Err         error
}

// Decide gates one request. Public routes are always allowed; protected
// routes are allowed only for a Ready session. An Errored session is
// treated as signed out and its error is passed along.
func Decide(s State, class RouteClass, currentPath string) Decision {
	var err error
	if s.Phase == Errored {
		err = s.Err
	}

	if class == Public {
		return Decision{Kind: Allow, Err: err}
	}

	switch s.Phase {
	case Ready:
		return Decision{Kind: Allow}
	case Initializing:
		return Decision{Kind: ShowPlaceholder, Placeholder: Authenticating}
	case ProfilePending:
		return Decision{Kind: ShowPlaceholder, Placeholder: ProvisioningProfile}
	default:
		return Decision{Kind: RedirectToLogin, ReturnPath: currentPath, Err: err}
	}
}
