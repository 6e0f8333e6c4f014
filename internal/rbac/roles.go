package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleApp       = "app"        // the application that owns the calls
	RolePushRelay = "push_relay" // delivers tokens and incoming-call pushes
	RoleCallUI    = "call_ui"    // bridge to the OS call screen
	RoleAdmin     = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// Known reports whether role is one of the roles above.
func Known(role string) bool {
	switch role {
	case RoleApp, RolePushRelay, RoleCallUI, RoleAdmin:
		return true
	}
	return false
}
