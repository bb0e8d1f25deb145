package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// AuthStrategy decorates outgoing requests with credentials.
type AuthStrategy interface {
	Apply(ctx context.Context, req *http.Request) error
}

// noAuth serves local inference servers that accept anonymous requests.
type noAuth struct{}

func NewNoAuth() AuthStrategy { return noAuth{} }

func (noAuth) Apply(context.Context, *http.Request) error { return nil }

type bearerAuth struct {
	key    string
	source string
}

// NewBearerAuth sends key as a bearer token. source names the config key in
// error messages.
func NewBearerAuth(key, source string) AuthStrategy {
	return &bearerAuth{key: strings.TrimSpace(key), source: source}
}

func (a *bearerAuth) Apply(_ context.Context, req *http.Request) error {
	if a.key == "" {
		return fmt.Errorf("%s is empty", a.source)
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	return nil
}
