package auth

// Known OAuth scopes used by the reading service.
const (
	ScopeReadingWrite = "reading:write"
	ScopeReadingRead  = "reading:read"
)
