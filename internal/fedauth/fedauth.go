// Package fedauth implements the federated-authentication token flows
// spec.md §4.4 "Federated authentication" names: the driver acquires a
// bearer token from a configured authority and writes it back in a
// FEDAUTH_TOKEN (0x08) packet once the server's FEDAUTHINFO token names
// the STS URL and server SPN to use.
package fedauth

import (
	"context"

	"github.com/Azure/go-autorest/autorest/adal"

	"github.com/ulvii/go-tds/internal/tdserr"
)

// TokenProvider acquires a bearer token for a given STS URL / server
// SPN pair, as named by the server's FEDAUTHINFO token.
type TokenProvider interface {
	AcquireToken(ctx context.Context, stsURL, serverSPN string) (string, error)
}

// Scheme names the federated-auth flows this package provides, one per
// TokenProvider implementation; nothing in this module switches on it.
type Scheme int

const (
	SchemeActiveDirectoryPassword Scheme = iota
	SchemeActiveDirectoryIntegrated
	SchemeCallback
)

// PasswordProvider implements the ActiveDirectoryPassword flow: the
// client authenticates the given username/password against the STS
// directly (resource-owner password credentials grant), grounded on
// the teacher repo's azuread-accesstoken example, which performs the
// equivalent flow via github.com/Azure/go-autorest/autorest/adal.
type PasswordProvider struct {
	ClientID string // application (client) id registered with the directory
	TenantID string
	Username string
	Password string
}

func (p PasswordProvider) AcquireToken(ctx context.Context, stsURL, serverSPN string) (string, error) {
	oauthConfig, err := adal.NewOAuthConfig(stsURL, p.TenantID)
	if err != nil {
		return "", tdserr.Wrap(tdserr.KindFedAuthTokenFailed, err)
	}
	spt, err := adal.NewServicePrincipalTokenFromUsernamePassword(*oauthConfig, p.ClientID, p.Username, p.Password, serverSPN)
	if err != nil {
		return "", tdserr.Wrap(tdserr.KindFedAuthTokenFailed, err)
	}
	if err := spt.RefreshWithContext(ctx); err != nil {
		return "", tdserr.Wrap(tdserr.KindFedAuthTokenFailed, err)
	}
	return spt.OAuthToken(), nil
}

// IntegratedProvider implements the ActiveDirectoryIntegrated flow
// (Kerberos against the machine's logged-in identity). This requires
// platform SSPI/GSSAPI support the standard library and the pack's
// dependencies don't provide; it fails eagerly with a clear
// configuration error rather than silently no-op'ing.
type IntegratedProvider struct{}

func (IntegratedProvider) AcquireToken(ctx context.Context, stsURL, serverSPN string) (string, error) {
	return "", tdserr.New(tdserr.KindFedAuthTokenFailed, "ActiveDirectoryIntegrated requires platform Kerberos/SSPI support not available in this build")
}

// CallbackProvider adapts a caller-supplied token function, for
// applications that already manage their own token acquisition
// (e.g. via a workload-identity sidecar).
type CallbackProvider struct {
	Func func(ctx context.Context, stsURL, serverSPN string) (string, error)
}

func (c CallbackProvider) AcquireToken(ctx context.Context, stsURL, serverSPN string) (string, error) {
	if c.Func == nil {
		return "", tdserr.New(tdserr.KindFedAuthTokenFailed, "fedauth callback provider has no Func configured")
	}
	return c.Func(ctx, stsURL, serverSPN)
}

// BuildToken acquires a token via provider and renders it into the
// FEDAUTH_TOKEN packet body: a 4-byte length prefix followed by the
// UTF-16LE-encoded token, per the LOGIN7 fedauth continuation format.
func BuildToken(ctx context.Context, provider TokenProvider, stsURL, serverSPN string) ([]byte, error) {
	token, err := provider.AcquireToken(ctx, stsURL, serverSPN)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, tdserr.New(tdserr.KindFedAuthTokenFailed, "token provider returned an empty token")
	}
	return encodeFedAuthToken(token), nil
}

func encodeFedAuthToken(token string) []byte {
	u16 := utf16Encode(token)
	out := make([]byte, 4+len(u16))
	out[0] = byte(len(u16))
	out[1] = byte(len(u16) >> 8)
	out[2] = byte(len(u16) >> 16)
	out[3] = byte(len(u16) >> 24)
	copy(out[4:], u16)
	return out
}

func utf16Encode(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		if r <= 0xFFFF {
			out = append(out, byte(r), byte(r>>8))
			continue
		}
		r -= 0x10000
		hi := 0xD800 + (r >> 10)
		lo := 0xDC00 + (r & 0x3FF)
		out = append(out, byte(hi), byte(hi>>8), byte(lo), byte(lo>>8))
	}
	return out
}
