package auth

import (
	"context"
)

type contextKey string

const tokenContextKey contextKey = "token"

// WithToken attaches the authenticated token to the context.
func WithToken(ctx context.Context, token *Token) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFromContext retrieves the authenticated token, nil when the request
// carried none.
func TokenFromContext(ctx context.Context) *Token {
	token, ok := ctx.Value(tokenContextKey).(*Token)
	if !ok {
		return nil
	}
	return token
}
