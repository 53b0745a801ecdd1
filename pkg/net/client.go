package net

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// GetOAuthClient returns an HTTP client carrying the provider token on every
// request.
func GetOAuthClient(ctx context.Context, token string) *http.Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{
			TokenType:   "token",
			AccessToken: token,
		},
	)
	return oauth2.NewClient(ctx, ts)
}
