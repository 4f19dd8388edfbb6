// Package auth provides authentication middleware for adlens-server.
//
// APIKey(mode, header, key) wraps an http.Handler and validates the API key
// carried in the named request header. When mode != "apikey" or key == "",
// every request passes through. A missing or wrong key gets 401.
package auth
