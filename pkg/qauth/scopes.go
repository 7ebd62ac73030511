package qauth

import (
	"sort"
	"strings"
)

// Scope is an OAuth scope understood by the platform.
type Scope = string

const (
	ScopeUserProfileRead Scope = "user-profile:read"
	ScopeUserRead        Scope = "user:read"
	ScopeUserWrite       Scope = "user:write"
	ScopeViewablesRead   Scope = "viewables:read"
	ScopeDataRead        Scope = "data:read"
	ScopeDataWrite       Scope = "data:write"
	ScopeDataCreate      Scope = "data:create"
	ScopeDataSearch      Scope = "data:search"
	ScopeBucketCreate    Scope = "bucket:create"
	ScopeBucketRead      Scope = "bucket:read"
	ScopeBucketUpdate    Scope = "bucket:update"
	ScopeBucketDelete    Scope = "bucket:delete"
	ScopeCodeAll         Scope = "code:all"
	ScopeAccountRead     Scope = "account:read"
	ScopeAccountWrite    Scope = "account:write"
	ScopeOpenID          Scope = "openid"
)

// AutomationScopes covers a full upload / submit / download workflow.
var AutomationScopes = []Scope{
	ScopeCodeAll,
	ScopeDataRead,
	ScopeDataWrite,
	ScopeDataCreate,
	ScopeBucketCreate,
	ScopeBucketRead,
}

// normalizeScopes returns a sorted, de-duplicated copy.
func normalizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		for _, f := range strings.Fields(s) {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}
