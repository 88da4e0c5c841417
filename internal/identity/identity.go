package identity

import (
	"context"
	"errors"
	"net/url"
)

// ErrAuthFailed is returned when a sign-in attempt is refused, canceled, or
// incomplete.
var ErrAuthFailed = errors.New("authentication failed")

// Identity is who is signed in. The zero value means nobody.
type Identity struct {
	DisplayName string
	Handle      string
}

func (i Identity) Present() bool {
	return i.Handle != ""
}

// Provider runs a redirect-style sign-in. LoginURL sends the browser to the
// provider; the provider sends it back to the callback with params that
// SignIn turns into an Identity.
type Provider interface {
	Name() string
	LoginURL(state string) string
	SignIn(ctx context.Context, params url.Values) (Identity, error)
	SignOut(ctx context.Context, id Identity) error
}

// CallbackError returns ErrAuthFailed wrapped with the provider's reason when
// params carry an OAuth-style error, or nil.
func CallbackError(params url.Values) error {
	reason := params.Get("error")
	if reason == "" {
		return nil
	}
	if desc := params.Get("error_description"); desc != "" {
		reason += ": " + desc
	}
	return errors.Join(ErrAuthFailed, errors.New(reason))
}
