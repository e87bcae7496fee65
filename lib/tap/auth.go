package tap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"

	"go.opentelemetry.io/otel/codes"

	"skyquery/lib/restyutil"
)

// Login posts the username/password form to the service's login
// endpoint. The session cookies land in the client jar and ride along
// on every later request.
func (c *Client) Login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	if c.opts.LoginURL == "" {
		return fmt.Errorf("service at %s has no login endpoint", c.opts.BaseURL)
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": username,
			"password": password,
		}).
		Post(c.opts.LoginURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login request failed")
		return err
	}
	if serr := restyutil.CheckStatus(res); serr != nil {
		span.SetStatus(codes.Error, "login rejected")
		return serr
	}

	slog.InfoContext(ctx, "logged in", "url", c.opts.LoginURL, "user", username)
	return nil
}

// Logout ends the server-side session and drops every cookie the
// client was holding.
func (c *Client) Logout(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Logout")
	defer span.End()

	if c.opts.LogoutURL != "" {
		res, err := c.http.R().SetContext(ctx).Post(c.opts.LogoutURL)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if serr := restyutil.CheckStatus(res); serr != nil {
			return serr
		}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	c.http.SetCookieJar(jar)
	c.http.Cookies = nil
	return nil
}

// SetCookies injects session cookies obtained outside the login flow,
// like a CADC SSO token exchange.
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.http.SetCookies(cookies)
}

// SetAuthToken installs a bearer token on every request, for services
// that authenticate through an OpenID Connect provider instead of a
// login form.
func (c *Client) SetAuthToken(token string) {
	c.http.SetAuthToken(token)
}
