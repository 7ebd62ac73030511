package qsdk

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/apsflow/pkg/qauth"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"golang.org/x/oauth2"
)

// LoginTimeout bounds how long Login waits for the browser redirect.
const LoginTimeout = 2 * time.Minute

// CallbackServer hosts a temporary HTTP listener on localhost used during the
// interactive CLI login flow. Addr is the address actually bound, which
// differs from the redirect URL when it asks for port 0.
type CallbackServer struct {
	Addr string

	state  string
	srv    *http.Server
	codeCh chan string
	errCh  chan error
}

// StartCallbackServer listens on the host and port of redirectURL and serves
// its path until one redirect carrying state arrives. The redirect URL must
// match the one registered for the application.
func StartCallbackServer(redirectURL, state string) (*CallbackServer, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, qerr.New(qerr.CodeConfiguration, fmt.Errorf("invalid callback url: %w", err))
	}
	if u.Scheme != "http" || u.Host == "" {
		return nil, qerr.Newf(qerr.CodeConfiguration, "callback url %q must be a local http url", redirectURL)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", u.Host, err)
	}

	cs := &CallbackServer{
		Addr:   ln.Addr().String(),
		state:  state,
		codeCh: make(chan string, 1),
		errCh:  make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, cs.handle)
	cs.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := cs.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cs.fail(err)
		}
	}()
	return cs, nil
}

func (cs *CallbackServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("error") != "":
		http.Error(w, "Authentication failed. You can close this window.", http.StatusBadRequest)
		cs.fail(qerr.Newf(qerr.CodeUnauthorized, "authorization denied: %s %s", q.Get("error"), q.Get("error_description")))
	case q.Get("state") != cs.state:
		// not ours, e.g. a stale tab
		http.Error(w, "Unexpected login state.", http.StatusBadRequest)
	case q.Get("code") == "":
		http.Error(w, "Missing authorization code.", http.StatusBadRequest)
		cs.fail(qerr.Newf(qerr.CodeUnauthorized, "no code in callback"))
	default:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Authentication successful. You can close this window.\n"))
		select {
		case cs.codeCh <- q.Get("code"):
		default:
		}
	}
}

func (cs *CallbackServer) fail(err error) {
	select {
	case cs.errCh <- err:
	default:
	}
}

// Wait returns the authorization code, then shuts the server down.
func (cs *CallbackServer) Wait(ctx context.Context) (string, error) {
	defer cs.Close()
	select {
	case code := <-cs.codeCh:
		return code, nil
	case err := <-cs.errCh:
		return "", fmt.Errorf("login failed: %w", err)
	case <-ctx.Done():
		return "", fmt.Errorf("login timed out: %w", ctx.Err())
	}
}

func (cs *CallbackServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cs.srv.Shutdown(ctx)
}

func (s *Sdk) requireAuth() (*qauth.Client, error) {
	if s.Auth == nil {
		return nil, qerr.Newf(qerr.CodeConfiguration, "%s is required for user login", ClientIdKey)
	}
	return s.Auth, nil
}

// Login runs the 3-legged flow with PKCE. open receives the authorize URL,
// typically to print it or launch a browser. The token is cached for
// WithUserToken.
func (s *Sdk) Login(ctx context.Context, open func(authorizeURL string) error) (*oauth2.Token, error) {
	auth, err := s.requireAuth()
	if err != nil {
		return nil, err
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	cs, err := StartCallbackServer(s.Config.CallbackURL, state)
	if err != nil {
		return nil, err
	}
	defer cs.Close()

	authorizeURL, err := auth.AuthorizeURL(s.Config.Scopes, qauth.AuthorizeOptions{
		State:    state,
		Verifier: verifier,
		Prompt:   "login",
	})
	if err != nil {
		return nil, err
	}
	if err := open(authorizeURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, LoginTimeout)
	defer cancel()
	code, err := cs.Wait(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("authorization code received")
	return auth.Exchange(ctx, code, verifier, s.Config.Scopes)
}

// UserToken returns the cached 3-legged token, refreshing it when needed.
func (s *Sdk) UserToken() (*oauth2.Token, error) {
	auth, err := s.requireAuth()
	if err != nil {
		return nil, err
	}
	return auth.ThreeLegged(s.Config.Scopes, nil).Token()
}

// WhoAmI returns the profile of the logged-in user.
func (s *Sdk) WhoAmI(ctx context.Context) (*qauth.UserInfo, error) {
	tok, err := s.UserToken()
	if err != nil {
		return nil, err
	}
	return s.Auth.UserInfo(ctx, tok)
}

// Logout revokes the cached user token and forgets it. It returns the URL
// that ends the browser session.
func (s *Sdk) Logout(ctx context.Context) (string, error) {
	auth, err := s.requireAuth()
	if err != nil {
		return "", err
	}
	tok, err := s.UserToken()
	if err != nil && !qerr.IsCode(err, qerr.CodeUnauthorized) {
		return "", err
	}
	if err := auth.RevokeAll(ctx, tok, s.Config.Scopes); err != nil {
		return "", err
	}
	return auth.LogoutURL(""), nil
}
