// Package api implements the HTTP surface of the order fulfillment service.
package api

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"orderflow/internal/auth"
)

// getPrincipal extracts role and user id from the request.
// - If Authorization: Bearer is present, uses the configured verifier.
// - Else, in dev mode only, falls back to X-Role / X-User-Id headers.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, bool) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		p, err := s.Auth.Verify(tok)
		return p, err == nil
	}
	if s.Auth != nil && s.Auth.Mode != "dev" {
		return auth.Principal{}, false
	}
	role := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role")))
	id, err := strconv.ParseInt(r.Header.Get("X-User-Id"), 10, 64)
	if role == "" || err != nil {
		return auth.Principal{}, false
	}
	return auth.Principal{Role: role, UserID: id}, true
}

// requireRole writes 401/403 and returns false unless the caller has one of roles.
func (s *Server) requireRole(w http.ResponseWriter, r *http.Request, roles ...string) (auth.Principal, bool) {
	p, ok := s.getPrincipal(r)
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid credentials", r.URL.Path)
		return p, false
	}
	if !slices.Contains(roles, p.Role) {
		writeProblem(w, http.StatusForbidden, "Forbidden", "role "+p.Role+" may not call this endpoint", r.URL.Path)
		return p, false
	}
	return p, true
}
