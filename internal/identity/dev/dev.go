// Package dev is a sign-in provider for local use: the user types a display
// name and is signed in under a handle derived from it.
package dev

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/vbonduro/invtrack/internal/identity"
)

const maxNameLen = 100

type DevProvider struct {
	formPath string
}

// NewDevProvider returns a provider whose LoginURL points at formPath, a page
// that asks for a name and submits it to the callback.
func NewDevProvider(formPath string) *DevProvider {
	return &DevProvider{formPath: formPath}
}

func (p *DevProvider) Name() string { return "dev" }

func (p *DevProvider) LoginURL(state string) string {
	return p.formPath + "?" + url.Values{"state": {state}}.Encode()
}

// SignIn reads the "name" param. The same name always maps to the same
// handle.
func (p *DevProvider) SignIn(_ context.Context, params url.Values) (identity.Identity, error) {
	if err := identity.CallbackError(params); err != nil {
		return identity.Identity{}, err
	}
	name := strings.TrimSpace(params.Get("name"))
	if name == "" {
		return identity.Identity{}, fmt.Errorf("%w: name required", identity.ErrAuthFailed)
	}
	if len(name) > maxNameLen {
		return identity.Identity{}, fmt.Errorf("%w: name too long", identity.ErrAuthFailed)
	}
	handle := uuid.NewSHA1(uuid.NameSpaceURL, []byte("invtrack:dev:"+strings.ToLower(name)))
	return identity.Identity{DisplayName: name, Handle: "dev:" + handle.String()}, nil
}

func (p *DevProvider) SignOut(context.Context, identity.Identity) error {
	return nil
}
