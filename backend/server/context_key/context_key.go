// Package contextKey defines the keys under which middleware stores
// request-scoped values. A dedicated type prevents collisions with
// context keys from other packages.
package contextKey

type key string

// UserIDKey holds the authenticated user's hex id, injected by the JWT
// middleware.
const UserIDKey = key("userID")

// JwtErrorKey holds any JWT validation error encountered by the
// middleware, for handlers that want to report it.
const JwtErrorKey = key("jwtError")
