package splatnet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient wires a Client against an httptest upstream with a seeded
// credential bundle and a scriptable exchanger.
func newTestClient(t *testing.T, seed Update, provider TokenExchanger, handler http.Handler) (*Client, *Coordinator) {
	t.Helper()
	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)

	coord := NewCoordinator(NewCredentials(seed), provider)
	client := NewClient(coord, WithBaseURL(upstream.URL), WithHTTPClient(upstream.Client()))
	return client, coord
}

func TestQueryValidTokenNoRefresh(t *testing.T) {
	provider := &fakeExchanger{}
	client, _ := newTestClient(t,
		Update{SessionToken: "s", GToken: "g", BulletToken: "bullet-ok"},
		provider,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer bullet-ok", r.Header.Get("Authorization"))
			assert.Equal(t, "com.nintendo.znca", r.Header.Get("X-Requested-With"))
			cookie, err := r.Cookie("_gtoken")
			require.NoError(t, err)
			assert.Equal(t, "g", cookie.Value)

			var body struct {
				Extensions struct {
					PersistedQuery struct {
						Hash string `json:"sha256Hash"`
					} `json:"persistedQuery"`
				} `json:"extensions"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.NotEmpty(t, body.Extensions.PersistedQuery.Hash)

			w.Write([]byte(`{"data":{"latestBattleHistories":{}}}`))
		}),
	)

	data, err := client.LatestBattles(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"latestBattleHistories":{}}}`, string(data))
	assert.EqualValues(t, 0, provider.gameCalls.Load(), "a valid token must not trigger refresh traffic")
	assert.EqualValues(t, 0, provider.bulletCalls.Load())
}

func TestQueryRetriesOnceAfterAuthFailure(t *testing.T) {
	provider := &fakeExchanger{
		bulletFunc: func(ctx context.Context, gToken string) (string, error) {
			return "bullet-fresh", nil
		},
	}

	var attempts atomic.Int64
	client, _ := newTestClient(t,
		Update{SessionToken: "s", GToken: "g", BulletToken: "bullet-stale"},
		provider,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			if r.Header.Get("Authorization") != "Bearer bullet-fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"data":{}}`))
		}),
	)

	data, err := client.Schedule(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{}}`, string(data))
	assert.EqualValues(t, 2, attempts.Load())
	assert.EqualValues(t, 1, provider.bulletCalls.Load())
}

func TestQuerySecondAuthFailureSurfaces(t *testing.T) {
	provider := &fakeExchanger{
		bulletFunc: func(ctx context.Context, gToken string) (string, error) {
			return "bullet-also-bad", nil
		},
	}

	var attempts atomic.Int64
	client, _ := newTestClient(t,
		Update{SessionToken: "s", GToken: "g", BulletToken: "bullet-stale"},
		provider,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}),
	)

	_, err := client.Friends(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.EqualValues(t, 2, attempts.Load(), "one retry, never a loop")
}

func TestQueryColdStartDrivesChain(t *testing.T) {
	provider := &fakeExchanger{}

	var attempts atomic.Int64
	client, coord := newTestClient(t,
		Update{SessionToken: "s"},
		provider,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			assert.Equal(t, "Bearer bullet-1", r.Header.Get("Authorization"))
			w.Write([]byte(`{"data":{}}`))
		}),
	)

	_, err := client.CoopHistory(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 1, attempts.Load())
	assert.EqualValues(t, 1, provider.gameCalls.Load())
	assert.EqualValues(t, 1, provider.bulletCalls.Load())

	snap := coord.Credentials().Snapshot()
	assert.Equal(t, "gtoken-1", snap.GToken)
	assert.Equal(t, "bullet-1", snap.BulletToken)
}

func TestQueryColdStartConsumesRetryBudget(t *testing.T) {
	provider := &fakeExchanger{}

	var attempts atomic.Int64
	client, _ := newTestClient(t,
		Update{SessionToken: "s"},
		provider,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}),
	)

	_, err := client.HistoryRecord(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.EqualValues(t, 1, attempts.Load(), "the cold-start refresh was this call's one refresh")
	assert.EqualValues(t, 1, provider.bulletCalls.Load())
}

func TestQueryRefreshFailurePropagates(t *testing.T) {
	provider := &fakeExchanger{
		gameFunc: func(ctx context.Context, sessionToken string) (GameTokens, error) {
			return GameTokens{}, &SessionExpiredError{}
		},
	}

	client, _ := newTestClient(t,
		Update{SessionToken: "s"},
		provider,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("upstream must not be reached when refresh fails")
		}),
	)

	_, err := client.BattleDetail(context.Background(), "battle-1")
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestQueryUpstreamErrorStatus(t *testing.T) {
	client, _ := newTestClient(t,
		Update{SessionToken: "s", GToken: "g", BulletToken: "b"},
		&fakeExchanger{},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}),
	)

	_, err := client.Home(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "HomeQuery", apiErr.Query)
}

func TestExecuteTransportFailure(t *testing.T) {
	coord := NewCoordinator(
		NewCredentials(Update{SessionToken: "s", GToken: "g", BulletToken: "b"}),
		&fakeExchanger{},
	)
	// Port 1 refuses connections.
	client := NewClient(coord, WithBaseURL("http://127.0.0.1:1"))

	_, err := client.Query(context.Background(), "HomeQuery", nil)
	require.ErrorIs(t, err, ErrNetwork)
}

func TestQueryUnknownNameRejected(t *testing.T) {
	client, _ := newTestClient(t,
		Update{SessionToken: "s", GToken: "g", BulletToken: "b"},
		&fakeExchanger{},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("unknown query must be rejected before any request")
		}),
	)

	_, err := client.Query(context.Background(), "NoSuchQuery", nil)
	require.Error(t, err)
}
