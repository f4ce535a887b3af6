package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	scopeMaster        = "*"
	scopeCorpusRead    = "corpus:read"
	scopeCorpusWrite   = "corpus:write"
	scopeAuthManage    = "auth:manage"
	scopeServerRead    = "server:read"
	scopeServerConfig  = "server:config"
	scopeServerControl = "server:control"
)

// scopeSet is the set of scopes granted to a request.
type scopeSet map[string]struct{}

func newScopeSet(scopes ...string) scopeSet {
	set := make(scopeSet, len(scopes))
	for _, s := range scopes {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// parseScopes reads the space separated form kept in the key table.
func parseScopes(stored string) scopeSet {
	return newScopeSet(strings.Fields(stored)...)
}

// allows reports whether the set grants scope. The master scope grants all.
func (s scopeSet) allows(scope string) bool {
	if _, ok := s[scopeMaster]; ok {
		return true
	}
	_, ok := s[scope]
	return ok
}

func (s scopeSet) list() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

func (s scopeSet) String() string {
	return strings.Join(s.list(), " ")
}

type scopesKey struct{}

func withScopes(ctx context.Context, s scopeSet) context.Context {
	return context.WithValue(ctx, scopesKey{}, s)
}

func scopesFrom(ctx context.Context) (scopeSet, bool) {
	s, ok := ctx.Value(scopesKey{}).(scopeSet)
	return s, ok
}

// requireScope writes a 403 and returns false unless the authenticated
// request was granted scope.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	if s, ok := scopesFrom(r.Context()); ok && s.allows(scope) {
		return true
	}
	respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
	return false
}
