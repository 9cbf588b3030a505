package graph

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "sync/atomic"
    "testing"
    "time"

    "github.com/Hauer92/fae-issue-report/internal/config"
    "github.com/rs/zerolog"
    "github.com/stretchr/testify/require"
)

func testConfig() config.Config {
    return config.Config{
        GraphTenantID:     "tenant-1",
        GraphClientID:     "client-1",
        GraphClientSecret: "secret-1",
        TeamsTeamID:       "team-1",
        TeamsChannelID:    "channel-1",
        HTTPTimeout:       5 * time.Second,
        GraphRPS:          100,
    }
}

func tokenServer(t *testing.T, hits *int64) *httptest.Server {
    t.Helper()
    return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt64(hits, 1)
        require.NoError(t, r.ParseForm())
        require.Equal(t, "client_credentials", r.Form.Get("grant_type"))
        require.Equal(t, "client-1", r.Form.Get("client_id"))
        require.Equal(t, "secret-1", r.Form.Get("client_secret"))
        require.Equal(t, "https://graph.microsoft.com/.default", r.Form.Get("scope"))
        w.Header().Set("Content-Type", "application/json")
        _ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
    }))
}

func TestToken_MissingCredentialsIsNotAnError(t *testing.T) {
    var tokenHits, msgHits int64
    ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { atomic.AddInt64(&tokenHits, 1) }))
    defer ts.Close()
    ms := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { atomic.AddInt64(&msgHits, 1) }))
    defer ms.Close()

    cfg := testConfig()
    cfg.GraphClientSecret = ""
    c := NewClient(cfg, zerolog.Nop()).WithEndpoints(ts.URL, ms.URL)

    _, err := c.Token(context.Background())
    require.ErrorIs(t, err, ErrNoCredentials)

    err = c.PostChannelMessage(context.Background(), "<b>hi</b>")
    require.ErrorIs(t, err, ErrNoCredentials)

    // absent configuration must produce zero outbound calls
    require.Zero(t, atomic.LoadInt64(&tokenHits))
    require.Zero(t, atomic.LoadInt64(&msgHits))
}

func TestToken_AuthFailureCarriesProviderResponse(t *testing.T) {
    ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusUnauthorized)
        _, _ = w.Write([]byte(`{"error":"invalid_client"}`))
    }))
    defer ts.Close()

    c := NewClient(testConfig(), zerolog.Nop()).WithEndpoints(ts.URL, "http://127.0.0.1:0")
    _, err := c.Token(context.Background())
    var ae *AuthError
    require.ErrorAs(t, err, &ae)
    require.Equal(t, http.StatusUnauthorized, ae.Status)
    require.Contains(t, ae.Body, "invalid_client")
}

func TestPostChannelMessage_PayloadAndBearer(t *testing.T) {
    var tokenHits int64
    ts := tokenServer(t, &tokenHits)
    defer ts.Close()

    var gotAuth string
    var gotPath string
    var gotBody map[string]map[string]string
    ms := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        gotAuth = r.Header.Get("Authorization")
        gotPath = r.URL.Path
        require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
        w.WriteHeader(http.StatusCreated)
    }))
    defer ms.Close()

    c := NewClient(testConfig(), zerolog.Nop()).WithEndpoints(ts.URL, ms.URL)
    require.NoError(t, c.PostChannelMessage(context.Background(), "<b>#42 Pump leak</b>"))

    require.Equal(t, "Bearer tok-1", gotAuth)
    require.Equal(t, "/teams/team-1/channels/channel-1/messages", gotPath)
    require.Equal(t, "html", gotBody["body"]["contentType"])
    require.Equal(t, "<b>#42 Pump leak</b>", gotBody["body"]["content"])
}

func TestPostChannelMessage_ReusesCachedToken(t *testing.T) {
    var tokenHits int64
    ts := tokenServer(t, &tokenHits)
    defer ts.Close()
    var msgHits int64
    ms := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt64(&msgHits, 1)
        w.WriteHeader(http.StatusCreated)
    }))
    defer ms.Close()

    c := NewClient(testConfig(), zerolog.Nop()).WithEndpoints(ts.URL, ms.URL)
    require.NoError(t, c.PostChannelMessage(context.Background(), "one"))
    require.NoError(t, c.PostChannelMessage(context.Background(), "two"))

    require.Equal(t, int64(2), atomic.LoadInt64(&msgHits))
    require.Equal(t, int64(1), atomic.LoadInt64(&tokenHits), "second send must reuse the cached token")
}

func TestPostChannelMessage_DeliveryFailure(t *testing.T) {
    var tokenHits int64
    ts := tokenServer(t, &tokenHits)
    defer ts.Close()
    ms := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusForbidden)
        _, _ = w.Write([]byte(`{"error":{"code":"Forbidden"}}`))
    }))
    defer ms.Close()

    c := NewClient(testConfig(), zerolog.Nop()).WithEndpoints(ts.URL, ms.URL)
    err := c.PostChannelMessage(context.Background(), "nope")
    var de *DeliveryError
    require.ErrorAs(t, err, &de)
    require.Equal(t, http.StatusForbidden, de.Status)
    require.False(t, errors.Is(err, ErrNoCredentials))
}
