/* Copyright (c) 2025 Hauer92 <https://github.com/Hauer92>
 * SPDX-License-Identifier: BSD-3-Clause */
package graph

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"
    "sync"
    "time"

    "github.com/Hauer92/fae-issue-report/internal/config"
    "github.com/rs/zerolog"
    "golang.org/x/time/rate"
)

const (
    defaultLoginBase = "https://login.microsoftonline.com"
    defaultGraphBase = "https://graph.microsoft.com/v1.0"
    graphScope       = "https://graph.microsoft.com/.default"
)

// ErrNoCredentials means the tenant/client-id/client-secret triple (or the
// target team/channel) is not configured. Callers treat this as
// "notifications disabled", never as a failure.
var ErrNoCredentials = errors.New("graph: credentials not configured")

// AuthError is a non-2xx response from the identity provider's token endpoint.
type AuthError struct {
    Status int
    Body   string
}

func (e *AuthError) Error() string {
    return fmt.Sprintf("graph token status=%d body=%s", e.Status, e.Body)
}

// DeliveryError is a non-2xx response from the channel-messages endpoint.
type DeliveryError struct {
    Status int
    Body   string
}

func (e *DeliveryError) Error() string {
    return fmt.Sprintf("graph sendMessage status=%d body=%s", e.Status, e.Body)
}

type Client struct {
    tenant    string
    clientID  string
    secret    string
    teamID    string
    channelID string
    loginBase string
    graphBase string
    http      *http.Client
    limiter   *rate.Limiter
    log       zerolog.Logger

    mu       sync.Mutex
    token    string
    tokenExp time.Time
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    rps := cfg.GraphRPS
    if rps <= 0 { rps = 4 }
    return &Client{
        tenant:    cfg.GraphTenantID,
        clientID:  cfg.GraphClientID,
        secret:    cfg.GraphClientSecret,
        teamID:    cfg.TeamsTeamID,
        channelID: cfg.TeamsChannelID,
        loginBase: defaultLoginBase,
        graphBase: defaultGraphBase,
        http:      &http.Client{ Timeout: cfg.HTTPTimeout },
        limiter:   rate.NewLimiter(rate.Limit(rps), 1),
        log:       log,
    }
}

// WithEndpoints overrides the login and graph base URLs. Test hook.
func (c *Client) WithEndpoints(loginBase, graphBase string) *Client {
    if loginBase != "" { c.loginBase = strings.TrimRight(loginBase, "/") }
    if graphBase != "" { c.graphBase = strings.TrimRight(graphBase, "/") }
    return c
}

// Token acquires a bearer token via the client-credentials flow. A cached
// token is reused until shortly before expiry. Returns ErrNoCredentials when
// any of the three credential values is absent.
func (c *Client) Token(ctx context.Context) (string, error) {
    if c.tenant == "" || c.clientID == "" || c.secret == "" { return "", ErrNoCredentials }

    c.mu.Lock()
    if c.token != "" && time.Now().Before(c.tokenExp) {
        tok := c.token
        c.mu.Unlock()
        return tok, nil
    }
    c.mu.Unlock()

    form := url.Values{}
    form.Set("client_id", c.clientID)
    form.Set("client_secret", c.secret)
    form.Set("grant_type", "client_credentials")
    form.Set("scope", graphScope)

    endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginBase, url.PathEscape(c.tenant))
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
    if err != nil { return "", err }
    req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

    resp, err := c.http.Do(req)
    if err != nil { return "", err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        b, _ := io.ReadAll(resp.Body)
        return "", &AuthError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
    }
    var out struct {
        AccessToken string `json:"access_token"`
        ExpiresIn   int    `json:"expires_in"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&out); err != nil { return "", err }
    if out.AccessToken == "" { return "", &AuthError{Status: resp.StatusCode, Body: "empty access_token"} }

    c.mu.Lock()
    c.token = out.AccessToken
    if out.ExpiresIn > 120 {
        c.tokenExp = time.Now().Add(time.Duration(out.ExpiresIn-60) * time.Second)
    } else {
        // token too short-lived to be worth caching
        c.tokenExp = time.Time{}
    }
    c.mu.Unlock()
    return out.AccessToken, nil
}

// PostChannelMessage posts an HTML message to the configured Teams channel.
// Exactly one attempt; retry policy lives with the caller. Returns
// ErrNoCredentials when credentials or the channel address are missing.
func (c *Client) PostChannelMessage(ctx context.Context, html string) error {
    if c.teamID == "" || c.channelID == "" { return ErrNoCredentials }
    token, err := c.Token(ctx)
    if err != nil { return err }

    if err := c.limiter.Wait(ctx); err != nil { return err }

    payload := map[string]any{"body": map[string]any{"contentType": "html", "content": html}}
    b, _ := json.Marshal(payload)
    endpoint := fmt.Sprintf("%s/teams/%s/channels/%s/messages", c.graphBase, url.PathEscape(c.teamID), url.PathEscape(c.channelID))
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
    if err != nil { return err }
    req.Header.Set("Authorization", "Bearer "+token)
    req.Header.Set("Content-Type", "application/json")

    resp, err := c.http.Do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        body, _ := io.ReadAll(resp.Body)
        return &DeliveryError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
    }
    return nil
}
