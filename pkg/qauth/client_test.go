package qauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/quatton/apsflow/pkg/kv"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeAuthServer struct {
	*httptest.Server
	tokenCalls  atomic.Int32
	revokeFails map[string]bool
	mu          sync.Mutex
	forms       []url.Values
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()
	f := &fakeAuthServer{revokeFails: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.forms = append(f.forms, r.PostForm)
		f.mu.Unlock()
		n := f.tokenCalls.Add(1)

		resp := map[string]any{
			"access_token": "access-" + r.PostForm.Get("grant_type") + "-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			resp["refresh_token"] = "refresh-" + string(rune('0'+n))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if f.revokeFails[r.PostForm.Get("token_type_hint")] {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("invalid_token"))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"U123","name":"Ada","email":"ada@example.com","email_verified":true}`))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeAuthServer) lastForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[len(f.forms)-1]
}

func newTestClient(t *testing.T, f *fakeAuthServer, cache *TokenCache) *Client {
	t.Helper()
	opts := []Option{WithHTTPClient(f.Client()), WithLogger(qlog.Discard())}
	if cache != nil {
		opts = append(opts, WithTokenCache(cache))
	}
	c, err := NewClient(Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/callback",
		AuthBaseURL:  f.URL,
		UserInfoURL:  f.URL + "/userinfo",
	}, opts...)
	require.NoError(t, err)
	return c
}

func newMemCache(t *testing.T) *TokenCache {
	store, err := kv.NewMemoryStore(16)
	require.NoError(t, err)
	return NewTokenCache(store)
}

func TestTwoLegged_CredentialsInBodyAndCached(t *testing.T) {
	f := newFakeAuthServer(t)
	cache := newMemCache(t)
	c := newTestClient(t, f, cache)

	ts := c.TwoLegged([]string{ScopeDataRead, ScopeCodeAll})
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-client_credentials-1", tok.AccessToken)

	form := f.lastForm()
	assert.Equal(t, "cid", form.Get("client_id"))
	assert.Equal(t, "secret", form.Get("client_secret"))
	assert.Equal(t, "code:all data:read", form.Get("scope"))

	// a second source with the same scopes in another order hits the cache
	again, err := c.TwoLegged([]string{ScopeCodeAll, ScopeDataRead}).Token()
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, again.AccessToken)
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestTwoLegged_SingleInFlightFetch(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newTestClient(t, f, nil)
	ts := c.TwoLegged([]string{ScopeDataRead})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.Token()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestTwoLegged_RefetchesInsideSkew(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newTestClient(t, f, nil)
	now := time.Now()
	c.now = func() time.Time { return now }
	ts := c.TwoLegged([]string{ScopeDataRead})

	_, err := ts.Token()
	require.NoError(t, err)

	now = now.Add(time.Hour - ExpirySkew + time.Second)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-client_credentials-2", tok.AccessToken)
}

func TestThreeLegged_PKCEExchangeAndRefresh(t *testing.T) {
	f := newFakeAuthServer(t)
	cache := newMemCache(t)
	c := newTestClient(t, f, cache)
	scopes := []string{ScopeDataRead}

	verifier := oauth2.GenerateVerifier()
	authURL, err := c.AuthorizeURL(scopes, AuthorizeOptions{State: "st", Verifier: verifier, Prompt: "login"})
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), u.Query().Get("code_challenge"))
	assert.Equal(t, "login", u.Query().Get("prompt"))
	assert.Equal(t, "st", u.Query().Get("state"))

	tok, err := c.Exchange(context.Background(), "the-code", verifier, scopes)
	require.NoError(t, err)
	assert.Equal(t, verifier, f.lastForm().Get("code_verifier"))
	assert.Equal(t, "the-code", f.lastForm().Get("code"))
	assert.Equal(t, "refresh-1", tok.RefreshToken)

	// the exchanged token is picked up from the cache
	cached, err := c.ThreeLegged(scopes, nil).Token()
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, cached.AccessToken)

	refreshed, err := c.Refresh(context.Background(), tok.RefreshToken, scopes)
	require.NoError(t, err)
	assert.Equal(t, "refresh_token", f.lastForm().Get("grant_type"))
	assert.Equal(t, "refresh-1", f.lastForm().Get("refresh_token"))
	assert.Equal(t, "refresh-2", refreshed.RefreshToken)
}

func TestThreeLegged_WithoutTokenIsUnauthorized(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newTestClient(t, f, nil)
	_, err := c.ThreeLegged([]string{ScopeDataRead}, nil).Token()
	assert.True(t, qerr.IsCode(err, qerr.CodeUnauthorized))
}

func TestRevokeAll_AggregatesFailures(t *testing.T) {
	f := newFakeAuthServer(t)
	f.revokeFails[HintAccessToken] = true
	f.revokeFails[HintRefreshToken] = true
	c := newTestClient(t, f, newMemCache(t))

	err := c.RevokeAll(context.Background(), &oauth2.Token{AccessToken: "a", RefreshToken: "r"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revoking access token")
	assert.Contains(t, err.Error(), "revoking refresh token")

	f.revokeFails = map[string]bool{}
	assert.NoError(t, c.RevokeAll(context.Background(), &oauth2.Token{AccessToken: "a", RefreshToken: "r"}, nil))
}

func TestLogoutURL(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newTestClient(t, f, nil)
	assert.Equal(t, f.URL+"/logout", c.LogoutURL(""))
	assert.Equal(t, f.URL+"/logout?post_logout_redirect_uri=https%3A%2F%2Fapp%2Fbye", c.LogoutURL("https://app/bye"))
}

func TestUserInfo(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newTestClient(t, f, nil)
	info, err := c.UserInfo(context.Background(), &oauth2.Token{AccessToken: "user-token"})
	require.NoError(t, err)
	assert.Equal(t, "U123", info.Subject)
	assert.Equal(t, "Ada", info.Name)
	assert.True(t, info.EmailVerified)
}

func TestTokenFromAccessToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"client_id": "cid",
		"scope":     []string{"data:read", "code:all"},
		"exp":       exp.Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	tok := TokenFromAccessToken(raw)
	assert.True(t, tok.Expiry.Equal(exp))

	ac, err := FromAccessToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "cid", ac.ClientID)
	assert.Equal(t, []string{"data:read", "code:all"}, ac.Scopes)

	assert.True(t, Fresh(tok, time.Now()))
	assert.False(t, Fresh(tok, exp.Add(-ExpirySkew)))
	assert.False(t, Fresh(nil, time.Now()))
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "aps:2l:cid:code:all data:read", TwoLeggedKey("cid", []string{"data:read code:all"}))
	assert.True(t, strings.HasPrefix(ThreeLeggedKey("cid", "http://cb", []string{"data:read"}), "aps:3l:cid:http://cb:"))
}
