// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bureau-foundation/boardhost/client"
	"github.com/bureau-foundation/boardhost/credentials"
	"github.com/bureau-foundation/boardhost/eventbridge"
	"github.com/bureau-foundation/boardhost/lib/clock"
	"github.com/bureau-foundation/boardhost/lib/fanout"
	"github.com/bureau-foundation/boardhost/lib/localstore"
	"github.com/bureau-foundation/boardhost/lib/netutil"
	"github.com/bureau-foundation/boardhost/messaging"
	"github.com/bureau-foundation/boardhost/oidc"
	"github.com/bureau-foundation/boardhost/widgetapi"
)

var (
	// ErrSessionInvalidated wraps the homeserver's rejection of a stored
	// access token. Stored credentials have been cleared.
	ErrSessionInvalidated = errors.New("lifecycle: stored session was rejected by the homeserver")

	// ErrDestroyed is returned by every operation after Destroy.
	ErrDestroyed = errors.New("lifecycle: controller destroyed")

	// ErrLoggedIn is returned by Start while a session is running.
	ErrLoggedIn = errors.New("lifecycle: already logged in")
)

// SSOPendingKey holds the homeserver a legacy SSO login was started
// against, until the login token comes back.
const SSOPendingKey = "sso_pending_homeserver"

// callbackParams are the query parameters a login redirect returns
// with. They are removed from the URL once a completion was attempted.
var callbackParams = []string{
	"loginToken", "code", "state", "error", "error_description", "error_uri", "iss", "session_state",
}

// Navigator is the host page: where the app was loaded from and where it
// can send the user.
type Navigator interface {
	CurrentURL() *url.URL
	// ReplaceURL rewrites the current URL without navigating.
	ReplaceURL(u *url.URL)
	// Navigate leaves the app for target.
	Navigate(target string)
}

// ProtocolClient is the running client a session is built on.
// *client.Client implements it.
type ProtocolClient interface {
	widgetapi.ProtocolClient
	DeviceID() string
	WhoAmI(ctx context.Context) (*messaging.WhoAmIResponse, error)
	Start(ctx context.Context) error
	WaitForFirstSync(ctx context.Context) error
	Stop()
	Logout(ctx context.Context) error
	// Done is closed when the sync loop exits; Err then says why.
	Done() <-chan struct{}
	Err() error
}

var _ ProtocolClient = (*client.Client)(nil)

// ClientFactory builds a stopped client for a session on homeserver.
type ClientFactory func(homeserver *messaging.Client, session messaging.SessionConfig) (ProtocolClient, error)

// DefaultClientFactory builds *client.Client values from template. The
// template's Session is ignored.
func DefaultClientFactory(template client.Config) ClientFactory {
	return func(homeserver *messaging.Client, sessionConfig messaging.SessionConfig) (ProtocolClient, error) {
		session, err := homeserver.Session(sessionConfig)
		if err != nil {
			return nil, err
		}
		config := template
		config.Session = session
		protocolClient, err := client.New(config)
		if err != nil {
			session.Close()
			return nil, err
		}
		return protocolClient, nil
	}
}

// DelegatedLogin runs the OIDC authorization code flow. *oidc.Flow
// implements it.
type DelegatedLogin interface {
	BeginLogin(ctx context.Context, homeserverURL, issuer, redirectURL string) (string, error)
	CompleteLogin(ctx context.Context, code, state string) (*oidc.LoginResult, error)
	Revoke(ctx context.Context, issuer, clientID, token string) error
}

var _ DelegatedLogin = (*oidc.Flow)(nil)

// Config holds the settings for New.
type Config struct {
	// Storage keeps credentials and in-flight logins. Required.
	Storage localstore.Storage

	// Navigator is the host page. Required.
	Navigator Navigator

	// HomeserverURL is the statically configured homeserver, if any.
	HomeserverURL string

	// AutoStart starts a login against HomeserverURL when there is no
	// session to resume or complete.
	AutoStart bool

	// Login defaults to an oidc.Flow over Storage.
	Login DelegatedLogin

	// ClientName and ClientURI are sent with OIDC client registration.
	ClientName string
	ClientURI  string

	// Client is the template for clients built by the default
	// factory.
	Client client.Config

	// NewClient defaults to DefaultClientFactory(Client).
	NewClient ClientFactory

	// EchoTimeout is passed to the event bridge.
	EchoTimeout time.Duration

	// HTTPClient is used for homeserver and issuer requests. Defaults
	// to http.DefaultClient.
	HTTPClient *http.Client

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Controller is safe for concurrent use. Start calls are serialized.
type Controller struct {
	storage       localstore.Storage
	credentials   *credentials.Store
	navigator     Navigator
	homeserverURL string
	autoStart     bool
	login         DelegatedLogin
	newClient     ClientFactory
	echoTimeout   time.Duration
	httpClient    *http.Client
	clock         clock.Clock
	logger        *slog.Logger

	// redirectURL is the page URL without query or fragment, captured
	// once; logins return to it.
	redirectURL string

	startMu sync.Mutex

	mu        sync.Mutex
	state     State
	states    *fanout.Hub[State]
	destroyed bool
}

// New validates config and returns a controller in the Starting phase.
func New(config Config) (*Controller, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("lifecycle: Storage is required")
	}
	if config.Navigator == nil {
		return nil, fmt.Errorf("lifecycle: Navigator is required")
	}
	if config.HomeserverURL != "" {
		if _, err := netutil.ParseHTTPURL(config.HomeserverURL); err != nil {
			return nil, fmt.Errorf("lifecycle: invalid HomeserverURL: %w", err)
		}
	}
	current := config.Navigator.CurrentURL()
	if current == nil {
		return nil, fmt.Errorf("lifecycle: navigator has no current URL")
	}
	redirect := *current
	redirect.RawQuery = ""
	redirect.Fragment = ""

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Login == nil {
		flow, err := oidc.NewFlow(oidc.FlowConfig{
			Storage:    config.Storage,
			ClientName: config.ClientName,
			ClientURI:  config.ClientURI,
			HTTPClient: config.HTTPClient,
			Clock:      config.Clock,
			Logger:     config.Logger,
		})
		if err != nil {
			return nil, err
		}
		config.Login = flow
	}
	if config.NewClient == nil {
		template := config.Client
		if template.Clock == nil {
			template.Clock = config.Clock
		}
		if template.Logger == nil {
			template.Logger = config.Logger
		}
		config.NewClient = DefaultClientFactory(template)
	}

	return &Controller{
		storage:       config.Storage,
		credentials:   credentials.New(config.Storage, config.Logger),
		navigator:     config.Navigator,
		homeserverURL: config.HomeserverURL,
		autoStart:     config.AutoStart,
		login:         config.Login,
		newClient:     config.NewClient,
		echoTimeout:   config.EchoTimeout,
		httpClient:    config.HTTPClient,
		clock:         config.Clock,
		logger:        config.Logger,
		redirectURL:   redirect.String(),
		state:         State{Phase: Starting, Reason: ReasonInitial},
		states:        fanout.New[State](),
	}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe follows the state. Close the subscription when done.
func (c *Controller) Subscribe() *StateSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.state.clone()
	return &StateSubscription{pending: &current, subscriber: c.states.Subscribe()}
}

// Start establishes a session: resume the stored one, else complete a
// login the URL carries, else start a login (auto-start) or publish
// NotLoggedIn. It returns an error wrapping ErrSessionInvalidated when
// the stored session was rejected, after the remaining tiers ran.
// Other failures only show in the published state's trail.
func (c *Controller) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	switch {
	case c.destroyed:
		c.mu.Unlock()
		return ErrDestroyed
	case c.state.Phase == LoggedIn:
		c.mu.Unlock()
		return ErrLoggedIn
	case c.state.Phase != Starting:
		c.setStateLocked(State{Phase: Starting, Reason: ReasonInitial})
	}
	c.mu.Unlock()

	c.credentials.Start(ctx)

	var trail []Reason
	loggedIn, reason, err := c.resume(ctx)
	trail = append(trail, reason)
	if loggedIn != nil {
		return c.enterLoggedIn(loggedIn, reason, trail)
	}
	var invalidated error
	if errors.Is(err, ErrSessionInvalidated) {
		invalidated = err
	}

	loggedIn, reason = c.completeLogin(ctx)
	trail = append(trail, reason)
	if loggedIn != nil {
		if err := c.enterLoggedIn(loggedIn, reason, trail); err != nil {
			return err
		}
		return invalidated
	}

	if c.homeserverURL != "" && c.autoStart {
		reason, err := c.redirectToLogin(ctx, c.homeserverURL)
		trail = append(trail, reason)
		if err == nil {
			if err := c.publish(State{Phase: Starting, Reason: reason, Trail: trail}); err != nil {
				return err
			}
			return invalidated
		}
		c.logger.Warn("starting login failed", "homeserver_url", c.homeserverURL, "error", err)
	}

	if err := c.publish(State{Phase: NotLoggedIn, Reason: ReasonLoginRequired, Trail: trail}); err != nil {
		return err
	}
	return invalidated
}

func (c *Controller) enterLoggedIn(loggedIn *LoggedInState, reason Reason, trail []Reason) error {
	err := c.publish(State{Phase: LoggedIn, Reason: reason, Trail: trail, LoggedIn: loggedIn})
	if err != nil {
		c.stopSession(loggedIn)
		return err
	}
	go c.watchSession(loggedIn)
	return nil
}

// watchSession waits for the session's sync loop to exit. When the
// homeserver rejected the access token, stored credentials are cleared
// and the controller falls back to NotLoggedIn.
func (c *Controller) watchSession(loggedIn *LoggedInState) {
	<-loggedIn.Client.Done()
	err := loggedIn.Client.Err()
	if !messaging.IsMatrixError(err, messaging.ErrCodeUnknownToken) {
		if err != nil && !errors.Is(err, client.ErrStopped) && !errors.Is(err, messaging.ErrSessionClosed) {
			c.logger.Warn("sync loop ended", "user_id", loggedIn.UserID, "error", err)
		}
		return
	}
	if !c.isCurrent(loggedIn) {
		return
	}

	c.logger.Warn("session rejected by the homeserver, credentials cleared", "user_id", loggedIn.UserID, "error", err)
	if clearErr := c.credentials.Clear(context.Background()); clearErr != nil {
		c.logger.Error("clearing rejected credentials failed", "error", clearErr)
	}
	c.stopSession(loggedIn)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || c.state.LoggedIn != loggedIn {
		return
	}
	c.setStateLocked(State{Phase: NotLoggedIn, Reason: ReasonTokenInvalid, Trail: []Reason{ReasonTokenInvalid}})
}

func (c *Controller) isCurrent(loggedIn *LoggedInState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.destroyed && c.state.LoggedIn == loggedIn
}

// resume starts the stored session, if any.
func (c *Controller) resume(ctx context.Context) (*LoggedInState, Reason, error) {
	stored := c.credentials.MatrixCredentials()
	if stored == nil {
		c.logger.Debug("no stored session")
		return nil, ReasonNoStoredSession, nil
	}
	loggedIn, err := c.startSession(ctx, stored)
	switch {
	case err == nil:
		c.logger.Info("session resumed", "user_id", stored.UserID, "device_id", stored.DeviceID)
		return loggedIn, ReasonResumed, nil
	case errors.Is(err, ErrSessionInvalidated):
		c.logger.Warn("stored session rejected, credentials cleared", "user_id", stored.UserID, "error", err)
		return nil, ReasonTokenInvalid, err
	default:
		c.logger.Warn("resuming session failed", "user_id", stored.UserID, "error", err)
		return nil, ReasonResumeFailed, err
	}
}

// startSession validates stored with the homeserver, starts a client,
// and waits for its first sync.
func (c *Controller) startSession(ctx context.Context, stored *credentials.MatrixCredentials) (*LoggedInState, error) {
	homeserver, err := c.homeserver(stored.HomeserverURL)
	if err != nil {
		return nil, err
	}
	refresher, err := c.refresherFor(homeserver, stored)
	if err != nil {
		return nil, err
	}
	protocolClient, err := c.newClient(homeserver, messaging.SessionConfig{
		UserID:       stored.UserID,
		DeviceID:     stored.DeviceID,
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		Refresher:    refresher,
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: building client: %w", err)
	}

	whoami, err := protocolClient.WhoAmI(ctx)
	if err != nil {
		protocolClient.Stop()
		return nil, c.rejected(ctx, err)
	}
	if whoami.UserID != stored.UserID {
		protocolClient.Stop()
		return nil, fmt.Errorf("lifecycle: access token belongs to %s, not %s", whoami.UserID, stored.UserID)
	}
	if err := protocolClient.Start(ctx); err != nil {
		protocolClient.Stop()
		return nil, fmt.Errorf("lifecycle: starting client: %w", err)
	}
	if err := protocolClient.WaitForFirstSync(ctx); err != nil {
		protocolClient.Stop()
		return nil, c.rejected(ctx, fmt.Errorf("lifecycle: waiting for first sync: %w", err))
	}

	adapter := widgetapi.NewAdapter(protocolClient, c.logger)
	bridge := eventbridge.New(adapter, eventbridge.Config{
		EchoTimeout: c.echoTimeout,
		Clock:       c.clock,
		Logger:      c.logger,
	})
	return &LoggedInState{
		UserID:        stored.UserID,
		DeviceID:      stored.DeviceID,
		HomeserverURL: stored.HomeserverURL,
		Client:        protocolClient,
		Adapter:       adapter,
		Bridge:        bridge,
		Widget: newWidgetHandoff(WidgetParameters{
			UserID:   stored.UserID,
			DeviceID: stored.DeviceID,
			Adapter:  adapter,
			Bridge:   bridge,
		}),
	}, nil
}

// rejected clears stored credentials when err is the homeserver
// refusing the access token, and returns err wrapped accordingly.
func (c *Controller) rejected(ctx context.Context, err error) error {
	if !messaging.IsMatrixError(err, messaging.ErrCodeUnknownToken) {
		return err
	}
	if clearErr := c.credentials.Clear(ctx); clearErr != nil {
		err = errors.Join(err, clearErr)
	}
	return fmt.Errorf("%w: %w", ErrSessionInvalidated, err)
}

// refresherFor picks how the session renews its token: the OIDC refresh
// grant when a delegated bundle exists, the homeserver's /refresh when
// only a Matrix refresh token exists, otherwise no refresh.
func (c *Controller) refresherFor(homeserver *messaging.Client, stored *credentials.MatrixCredentials) (messaging.TokenRefresher, error) {
	if delegated := c.credentials.OIDCCredentials(); delegated != nil && delegated.RefreshToken != "" {
		refresher, err := oidc.NewTokenRefresher(oidc.RefresherConfig{
			Issuer:        delegated.Issuer,
			ClientID:      delegated.ClientID,
			RedirectURL:   c.redirectURL,
			DeviceID:      stored.DeviceID,
			IDTokenClaims: delegated.IDTokenClaims,
			Persister:     c.credentials,
			HTTPClient:    c.httpClient,
			Clock:         c.clock,
			Logger:        c.logger,
		})
		if err != nil {
			return nil, err
		}
		return refresher, nil
	}
	if stored.RefreshToken != "" {
		return client.NewMatrixRefresher(homeserver, c.credentials, c.logger), nil
	}
	return nil, nil
}

func (c *Controller) homeserver(homeserverURL string) (*messaging.Client, error) {
	return messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: homeserverURL,
		HTTPClient:    c.httpClient,
		Logger:        c.logger,
	})
}

// Destroy stops the running client, publishes LoggedOut, and ends every
// state subscription. A non-empty redirectURL is navigated to
// afterwards. The controller accepts no further operations.
func (c *Controller) Destroy(redirectURL string) error {
	return c.destroy(redirectURL, ReasonDestroyed)
}

// Logout ends the server session, revokes the delegated refresh token,
// clears stored credentials, and destroys the controller. Server-side
// failures are returned after the local teardown completed.
func (c *Controller) Logout(ctx context.Context, redirectURL string) error {
	c.mu.Lock()
	destroyed := c.destroyed
	loggedIn := c.state.LoggedIn
	c.mu.Unlock()
	if destroyed {
		return ErrDestroyed
	}

	var errs []error
	if loggedIn != nil {
		if err := loggedIn.Client.Logout(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if delegated := c.credentials.OIDCCredentials(); delegated != nil && delegated.RefreshToken != "" {
		if err := c.login.Revoke(ctx, delegated.Issuer, delegated.ClientID, delegated.RefreshToken); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.credentials.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.destroy(redirectURL, ReasonLoggedOut); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("logout incomplete", "error", err)
		return err
	}
	return nil
}

func (c *Controller) destroy(redirectURL string, reason Reason) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.destroyed = true
	loggedIn := c.state.LoggedIn
	c.mu.Unlock()

	if loggedIn != nil {
		c.stopSession(loggedIn)
	}

	c.mu.Lock()
	c.setStateLocked(State{Phase: LoggedOut, Reason: reason})
	c.states.Close()
	c.mu.Unlock()

	if redirectURL != "" {
		c.navigator.Navigate(redirectURL)
	}
	return nil
}

func (c *Controller) stopSession(loggedIn *LoggedInState) {
	loggedIn.Widget.abandon()
	loggedIn.Adapter.Close()
	loggedIn.Client.Stop()
}

// publish fails once the controller is destroyed.
func (c *Controller) publish(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	c.setStateLocked(next)
	return nil
}

func (c *Controller) setStateLocked(next State) {
	c.state = next
	c.states.Publish(next.clone())
	c.logger.Info("session state changed",
		"phase", next.Phase.String(),
		"reason", string(next.Reason),
	)
}
