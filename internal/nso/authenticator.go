package nso

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/inkverse/inkgate/internal/splatnet"
)

// Nintendo account OAuth client for the NSO app. Public knowledge, not a
// secret.
const (
	clientID    = "71b963c1b7b6d119"
	redirectURI = "npf71b963c1b7b6d119://auth"
)

var loginScopes = []string{"openid", "user", "user.birthday", "user.mii", "user.screenName"}

const (
	accountsBaseURL    = "https://accounts.nintendo.com"
	accountsAPIBaseURL = "https://api.accounts.nintendo.com"
	coralBaseURL       = "https://api-lp1.znc.srv.nintendo.net"

	// SplatNet3's web service id in the coral catalog.
	splatnet3WebServiceID = 4834290508791808
)

// coral status codes surfaced in response bodies alongside HTTP 200.
const coralStatusMembershipRequired = 9404

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithHTTPClient sets the HTTP client used for Nintendo endpoints.
func WithHTTPClient(hc *http.Client) AuthenticatorOption {
	return func(a *Authenticator) { a.httpClient = hc }
}

// WithSigner sets the f signing service. Defaults to the public endpoint.
func WithSigner(s Signer) AuthenticatorOption {
	return func(a *Authenticator) { a.signer = s }
}

// WithAccountsBaseURL overrides the Nintendo accounts origin, for tests.
func WithAccountsBaseURL(base string) AuthenticatorOption {
	return func(a *Authenticator) {
		a.accountsBase = base
		a.accountsAPIBase = base
	}
}

// WithCoralBaseURL overrides the coral API origin, for tests.
func WithCoralBaseURL(base string) AuthenticatorOption {
	return func(a *Authenticator) { a.coralBase = base }
}

// WithServiceBaseURL overrides the SplatNet3 origin used for bullet token
// issuance, for tests.
func WithServiceBaseURL(base string) AuthenticatorOption {
	return func(a *Authenticator) { a.serviceBase = base }
}

// WithAppVersion pins the advertised NSO app version, disabling the live
// lookup.
func WithAppVersion(version string) AuthenticatorOption {
	return func(a *Authenticator) { a.versions.appOverride = version }
}

// WithWebViewVersion pins the advertised web view version.
func WithWebViewVersion(version string) AuthenticatorOption {
	return func(a *Authenticator) { a.versions.webViewOverride = version }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) { a.logger = logger }
}

// Authenticator performs the Nintendo Switch Online token exchanges. All
// cached state (client versions, account locale) lives on the instance so
// multiple credential sets and tests run independently.
type Authenticator struct {
	httpClient *http.Client
	signer     Signer
	logger     *slog.Logger
	versions   *versionCache

	accountsBase    string
	accountsAPIBase string
	coralBase       string
	serviceBase     string

	// Account locale learned from the last game token exchange, used by the
	// bullet token request headers.
	mu       sync.Mutex
	lang     string
	country  string
	nickname string
}

// Compile-time check that Authenticator implements Provider.
var _ Provider = (*Authenticator)(nil)

// NewAuthenticator creates an Authenticator with the production endpoints.
func NewAuthenticator(opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		httpClient:      &http.Client{Timeout: 60 * time.Second},
		logger:          slog.Default(),
		versions:        newVersionCache("", nil, nil),
		accountsBase:    accountsBaseURL,
		accountsAPIBase: accountsAPIBaseURL,
		coralBase:       coralBaseURL,
		serviceBase:     splatnet.ServiceBaseURL,
		lang:            "en-US",
		country:         "US",
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.signer == nil {
		a.signer = NewHTTPSigner("", a.httpClient)
	}
	configURL := DefaultFGenURL[:len(DefaultFGenURL)-len("/f")] + "/config"
	if hs, ok := a.signer.(*HTTPSigner); ok {
		configURL = hs.ConfigURL()
	}
	a.versions.configURL = configURL
	a.versions.httpClient = a.httpClient
	a.versions.logger = a.logger
	return a
}

// WebViewVersion reports the version string outbound SplatNet3 calls should
// advertise.
func (a *Authenticator) WebViewVersion(ctx context.Context) string {
	return a.versions.WebViewVersion(ctx)
}

// BeginLogin builds the Nintendo account authorization URL for the
// interactive flow and the PKCE verifier needed to complete it.
func (a *Authenticator) BeginLogin(ctx context.Context) (string, string, error) {
	verifier := oauth2.GenerateVerifier()
	state := oauth2.GenerateVerifier()

	cfg := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      loginScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL: a.accountsBase + "/connect/1.0.0/authorize",
		},
	}

	// Nintendo's variant of the code flow: the challenge parameters carry a
	// session_token_code_ prefix and the response type asks for a session
	// token code instead of an authorization code.
	authURL := cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_type", "session_token_code"),
		oauth2.SetAuthURLParam("session_token_code_challenge", oauth2.S256ChallengeFromVerifier(verifier)),
		oauth2.SetAuthURLParam("session_token_code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("theme", "login_form"),
	)

	return authURL, verifier, nil
}

// CompleteLogin exchanges the pasted npf callback URL for a session token.
func (a *Authenticator) CompleteLogin(ctx context.Context, callbackURL, verifier string) (string, error) {
	code, err := sessionTokenCodeFromCallback(callbackURL)
	if err != nil {
		return "", &splatnet.SessionExpiredError{Cause: err}
	}

	form := url.Values{
		"client_id":                   {clientID},
		"session_token_code":          {code},
		"session_token_code_verifier": {verifier},
	}

	appVersion := a.versions.AppVersion(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.accountsBase+"/connect/1.0.0/api/session_token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", fmt.Sprintf("OnlineLounge/%s NASDKAPI Android", appVersion))
	req.Header.Set("Accept", "application/json")

	var tokenResp struct {
		SessionToken string `json:"session_token"`
		Error        string `json:"error"`
	}
	if err := a.doJSON(req, &tokenResp); err != nil {
		return "", err
	}
	if tokenResp.Error != "" || tokenResp.SessionToken == "" {
		return "", &splatnet.SessionExpiredError{Cause: fmt.Errorf("session token exchange rejected: %s", tokenResp.Error)}
	}

	return tokenResp.SessionToken, nil
}

// sessionTokenCodeFromCallback extracts the session_token_code from the
// npf-scheme callback URL the login page redirects to.
func sessionTokenCodeFromCallback(callbackURL string) (string, error) {
	_, fragment, ok := strings.Cut(callbackURL, "#")
	if !ok {
		return "", errors.New("callback url has no fragment")
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return "", fmt.Errorf("parsing callback fragment: %w", err)
	}
	code := values.Get("session_token_code")
	if code == "" {
		return "", errors.New("callback url missing session_token_code")
	}
	return code, nil
}

// ExchangeForGameToken walks the coral chain: id_token from the session
// token, user info, signed Account/Login for the coral credential, then
// signed Game/GetWebServiceToken for the g_token.
func (a *Authenticator) ExchangeForGameToken(ctx context.Context, sessionToken string) (splatnet.GameTokens, error) {
	idToken, user, err := a.fetchIDTokenAndUser(ctx, sessionToken)
	if err != nil {
		return splatnet.GameTokens{}, err
	}

	a.mu.Lock()
	a.lang = user.Language
	a.country = user.Country
	a.nickname = user.Nickname
	a.mu.Unlock()

	coralToken, coralUserID, err := a.coralLogin(ctx, idToken, user)
	if err != nil {
		return splatnet.GameTokens{}, err
	}

	gToken, err := a.webServiceToken(ctx, coralToken, user.ID, coralUserID)
	if err != nil {
		return splatnet.GameTokens{}, err
	}

	return splatnet.GameTokens{
		AccessToken: coralToken,
		GToken:      gToken,
		Profile: splatnet.Profile{
			Nickname: user.Nickname,
			Lang:     user.Language,
			Country:  user.Country,
		},
	}, nil
}

type accountUser struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Language string `json:"language"`
	Country  string `json:"country"`
	Birthday string `json:"birthday"`
}

func (a *Authenticator) fetchIDTokenAndUser(ctx context.Context, sessionToken string) (string, accountUser, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     clientID,
		"session_token": sessionToken,
		"grant_type":    "urn:ietf:params:oauth:grant-type:jwt-bearer-session-token",
	})
	if err != nil {
		return "", accountUser{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.accountsBase+"/connect/1.0.0/api/token", bytes.NewReader(body))
	if err != nil {
		return "", accountUser{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Dalvik/2.1.0 (Linux; U; Android 14; Pixel 7a Build/UQ1A.240105.004)")

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		IDToken     string `json:"id_token"`
		Error       string `json:"error"`
	}
	if err := a.doJSON(req, &tokenResp); err != nil {
		return "", accountUser{}, err
	}
	if tokenResp.Error == "invalid_grant" {
		return "", accountUser{}, &splatnet.SessionExpiredError{}
	}
	if tokenResp.AccessToken == "" || tokenResp.IDToken == "" {
		return "", accountUser{}, fmt.Errorf("account token exchange returned no tokens (error=%q)", tokenResp.Error)
	}

	userReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.accountsAPIBase+"/2.0.0/users/me", nil)
	if err != nil {
		return "", accountUser{}, err
	}
	userReq.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)
	userReq.Header.Set("Accept", "application/json")
	userReq.Header.Set("User-Agent", "NASDKAPI; Android")

	var user accountUser
	if err := a.doJSON(userReq, &user); err != nil {
		return "", accountUser{}, err
	}
	if user.ID == "" {
		return "", accountUser{}, errors.New("users/me returned no account id")
	}

	return tokenResp.IDToken, user, nil
}

type coralResponse struct {
	Status       int             `json:"status"`
	ErrorMessage string          `json:"errorMessage"`
	Result       json.RawMessage `json:"result"`
}

func (a *Authenticator) coralLogin(ctx context.Context, idToken string, user accountUser) (string, string, error) {
	sig, err := a.signer.Sign(ctx, idToken, HashMethodAccountLogin, user.ID, "")
	if err != nil {
		return "", "", fmt.Errorf("signing account login: %w", err)
	}

	parameter := map[string]any{
		"f":          sig.F,
		"language":   user.Language,
		"naBirthday": user.Birthday,
		"naCountry":  user.Country,
		"naIdToken":  idToken,
		"requestId":  sig.RequestID,
		"timestamp":  sig.Timestamp,
	}

	var result struct {
		WebAPIServerCredential struct {
			AccessToken string `json:"accessToken"`
		} `json:"webApiServerCredential"`
		User struct {
			ID json.Number `json:"id"`
		} `json:"user"`
	}
	if err := a.coralCall(ctx, "/v3/Account/Login", "", parameter, &result); err != nil {
		return "", "", err
	}
	if result.WebAPIServerCredential.AccessToken == "" {
		return "", "", errors.New("coral login returned no credential")
	}

	return result.WebAPIServerCredential.AccessToken, result.User.ID.String(), nil
}

func (a *Authenticator) webServiceToken(ctx context.Context, coralToken, naID, coralUserID string) (string, error) {
	sig, err := a.signer.Sign(ctx, coralToken, HashMethodWebServiceToken, naID, coralUserID)
	if err != nil {
		return "", fmt.Errorf("signing web service token request: %w", err)
	}

	parameter := map[string]any{
		"f":                 sig.F,
		"id":                splatnet3WebServiceID,
		"registrationToken": coralToken,
		"requestId":         sig.RequestID,
		"timestamp":         sig.Timestamp,
	}

	var result struct {
		AccessToken string `json:"accessToken"`
	}
	if err := a.coralCall(ctx, "/v3/Game/GetWebServiceToken", coralToken, parameter, &result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		return "", errors.New("web service token response missing accessToken")
	}
	return result.AccessToken, nil
}

// coralCall posts a signed parameter envelope to a coral endpoint and
// decodes result into out. Membership lapses surface as a 9404 status in an
// otherwise successful response.
func (a *Authenticator) coralCall(ctx context.Context, path, bearer string, parameter map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"parameter": parameter})
	if err != nil {
		return err
	}

	appVersion := a.versions.AppVersion(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.coralBase+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Platform", "Android")
	req.Header.Set("X-ProductVersion", appVersion)
	req.Header.Set("User-Agent", fmt.Sprintf("com.nintendo.znca/%s(Android/14)", appVersion))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	var envelope coralResponse
	if err := a.doJSON(req, &envelope); err != nil {
		return err
	}

	if envelope.Status != 0 {
		if envelope.Status == coralStatusMembershipRequired ||
			envelope.ErrorMessage == "Membership required error." {
			a.mu.Lock()
			nickname := a.nickname
			a.mu.Unlock()
			return &splatnet.MembershipRequiredError{Nickname: nickname}
		}
		return fmt.Errorf("coral %s failed: status=%d message=%q", path, envelope.Status, envelope.ErrorMessage)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decoding coral %s result: %w", path, err)
		}
	}
	return nil
}

// ExchangeForAPIToken issues a bullet token from the g_token. The endpoint
// signals failure causes through its status code rather than a body.
func (a *Authenticator) ExchangeForAPIToken(ctx context.Context, gToken string) (string, error) {
	a.mu.Lock()
	lang, country := a.lang, a.country
	a.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serviceBase+"/api/bullet_tokens", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", lang)
	req.Header.Set("User-Agent", splatnet.AppUserAgent)
	req.Header.Set("X-Web-View-Ver", a.versions.WebViewVersion(ctx))
	req.Header.Set("X-NACOUNTRY", country)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Origin", a.serviceBase)
	req.Header.Set("X-Requested-With", "com.nintendo.znca")
	req.AddCookie(&http.Cookie{Name: "_gtoken", Value: gToken})
	req.AddCookie(&http.Cookie{Name: "_dnt", Value: "1"})

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &splatnet.NetworkError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case splatnet.BulletStatusStaleGameToken,
		splatnet.BulletStatusOutdatedClient,
		splatnet.BulletStatusEmptyResponse,
		splatnet.BulletStatusUserBanned:
		return "", &splatnet.BulletTokenError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &splatnet.BulletTokenError{StatusCode: resp.StatusCode, Message: "unexpected status"}
	}

	var bullet struct {
		BulletToken string `json:"bulletToken"`
		Lang        string `json:"lang"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bullet); err != nil {
		return "", fmt.Errorf("decoding bullet token response: %w", err)
	}
	if bullet.BulletToken == "" {
		return "", &splatnet.BulletTokenError{StatusCode: resp.StatusCode, Message: "empty bulletToken in response"}
	}
	return bullet.BulletToken, nil
}

// doJSON executes req and decodes the JSON body into out. Transport failures
// are classified as network errors; decode failures are not.
func (a *Authenticator) doJSON(req *http.Request, out any) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &splatnet.NetworkError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &splatnet.NetworkError{Cause: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response (status %d): %w", req.URL.Path, resp.StatusCode, err)
	}
	return nil
}
