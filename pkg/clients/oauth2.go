package clients

import (
	"context"
	"net/http"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ApplyIdentity configures config to authenticate with token.
//
//   - username tokens become basic authentication
//   - issued tokens with a TokenURL use the OAuth2 client credentials grant,
//     with Username as client id and Password as client secret
//   - issued tokens without a TokenURL are sent as static bearer tokens
//
// Anonymous and nil tokens leave config unchanged. ctx and base (which may
// be nil) are used for every later token request, so ctx must outlive the
// client.
func ApplyIdentity(ctx context.Context, config *HTTPConfig, token *core.IdentityToken, base *http.Client) error {
	if token.IsAnonymous() {
		return nil
	}

	switch token.Type {
	case core.TokenUsername:
		config.BasicAuth = &BasicAuth{Username: token.Username, Password: token.Password}
	case core.TokenIssued:
		if token.TokenURL == "" {
			if token.Token == "" {
				return errors.New(errors.ErrorTypeConfig, "issued identity token needs a token or a token URL")
			}
			config.TokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Token, TokenType: "Bearer"})
			return nil
		}
		cc := &clientcredentials.Config{
			ClientID:     token.Username,
			ClientSecret: token.Password,
			TokenURL:     token.TokenURL,
			Scopes:       token.Scopes,
		}
		if base != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
		}
		config.TokenSource = cc.TokenSource(ctx)
	default:
		return errors.Newf(errors.ErrorTypeConfig, "identity token type %q is not supported over HTTP", token.Type)
	}
	return nil
}
