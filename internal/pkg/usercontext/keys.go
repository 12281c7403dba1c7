package usercontext

// Shared Locals keys used across controllers and middlewares
const (
	KeyCallerContext = "CALLER_CONTEXT"
	KeyCallerID      = "caller_id"
	KeyIsAdmin       = "isAdmin"

	// HeaderUserID carries the caller id set by the upstream identity gateway
	HeaderUserID = "X-User-ID"
)
