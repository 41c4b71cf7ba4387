package nso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inkverse/inkgate/internal/splatnet"
)

// Hash methods accepted by the signing service, matching the two coral calls
// that require a signature.
const (
	HashMethodAccountLogin    = 1
	HashMethodWebServiceToken = 2
)

// Signature is the set of request-signing values issued by the f service.
type Signature struct {
	F         string `json:"f"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
}

// Signer produces the f signature required by coral API calls. The signing
// handshake itself is an opaque external capability; only its HTTP surface
// is consumed here.
type Signer interface {
	Sign(ctx context.Context, token string, hashMethod int, naID, coralUserID string) (Signature, error)
}

// DefaultFGenURL is the public znca f signing endpoint.
const DefaultFGenURL = "https://nxapi-znca-api.fancy.org.uk/api/znca/f"

const signerUserAgent = "inkgate/0.1"

// HTTPSigner calls an znca-compatible f signing service over HTTP.
type HTTPSigner struct {
	url        string
	httpClient *http.Client
}

// Compile-time check that HTTPSigner implements Signer.
var _ Signer = (*HTTPSigner)(nil)

// NewHTTPSigner creates a signer against url; an empty url selects the
// default public endpoint.
func NewHTTPSigner(url string, httpClient *http.Client) *HTTPSigner {
	if url == "" {
		url = DefaultFGenURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSigner{url: url, httpClient: httpClient}
}

type signRequest struct {
	Token       string `json:"token"`
	HashMethod  int    `json:"hash_method"`
	NAID        string `json:"na_id"`
	CoralUserID string `json:"coral_user_id,omitempty"`
}

// Sign requests a signature for token. coralUserID is required for
// HashMethodWebServiceToken and ignored otherwise.
func (s *HTTPSigner) Sign(ctx context.Context, token string, hashMethod int, naID, coralUserID string) (Signature, error) {
	body, err := json.Marshal(signRequest{
		Token:       token,
		HashMethod:  hashMethod,
		NAID:        naID,
		CoralUserID: coralUserID,
	})
	if err != nil {
		return Signature{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Signature{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", signerUserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Signature{}, &splatnet.NetworkError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return Signature{}, fmt.Errorf("f service returned status %d: %s", resp.StatusCode, snippet)
	}

	var sig Signature
	if err := json.NewDecoder(resp.Body).Decode(&sig); err != nil {
		return Signature{}, fmt.Errorf("decoding f service response: %w", err)
	}
	if sig.F == "" {
		return Signature{}, fmt.Errorf("f service returned empty signature")
	}
	return sig, nil
}

// ConfigURL derives the signing service's config endpoint, which reports the
// NSO app version the service is currently built against.
func (s *HTTPSigner) ConfigURL() string {
	return s.url[:len(s.url)-len("/f")] + "/config"
}
