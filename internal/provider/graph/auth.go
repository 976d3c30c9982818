package graph

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultScope = "https://graph.microsoft.com/.default"

// tokenSource hands out client-credentials access tokens. Tokens are cached
// by the oauth2 reuse source until shortly before expiry; Invalidate drops
// the cache after the API rejects a token.
type tokenSource struct {
	mu     sync.Mutex
	cfg    *clientcredentials.Config
	client *http.Client
	src    oauth2.TokenSource
}

func newTokenSource(tokenURL, clientID, clientSecret string, client *http.Client) *tokenSource {
	return &tokenSource{
		cfg: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{defaultScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		client: client,
	}
}

// Token returns a valid access token, fetching a new one when needed.
func (ts *tokenSource) Token() (string, error) {
	ts.mu.Lock()
	if ts.src == nil {
		// The source outlives any single request, so it gets its own context.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, ts.client)
		ts.src = ts.cfg.TokenSource(ctx)
	}
	src := ts.src
	ts.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	return tok.AccessToken, nil
}

// Invalidate discards the cached token so the next Token call fetches a new one.
func (ts *tokenSource) Invalidate() {
	ts.mu.Lock()
	ts.src = nil
	ts.mu.Unlock()
}
