// Package auth supplies the session bearer token. Read-only from the
// coordinator's perspective; issuing and refreshing tokens happens outside
// this client.
package auth

import (
	"errors"
	"os"

	"github.com/kotkoti/voiceroom/internal/core"
)

var ErrNoToken = errors.New("no session token available")

type staticSource struct{ token string }

func (s staticSource) BearerToken() (string, error) {
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// Static wraps a fixed token, mostly for tests and one-shot tooling.
func Static(token string) core.CredentialSource { return staticSource{token: token} }

type envSource struct{ key string }

func (e envSource) BearerToken() (string, error) {
	if v := os.Getenv(e.key); v != "" {
		return v, nil
	}
	return "", ErrNoToken
}

// Env reads the token from an environment variable on every call, so a
// rotated token is picked up without restarting.
func Env(key string) core.CredentialSource { return envSource{key: key} }
