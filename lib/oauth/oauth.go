// Package oauth speaks the small subset of OpenID Connect that archive
// identity providers expose to non-browser clients: the resource-owner
// password grant and refresh grant of a Keycloak-style token endpoint.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"skyquery/lib/restyutil"
	"skyquery/lib/telemetry"
	"skyquery/lib/timeutil"
)

var tracer = telemetry.Tracer("skyquery.lib.oauth")

var ErrNotRefreshable = errors.New("token is not refreshable")

// Endpoint identifies a token endpoint and the public client id
// registered for command line access.
type Endpoint struct {
	TokenURL string
	ClientID string
}

type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`

	// ObtainedAt is set by this package, not the provider.
	ObtainedAt time.Time `json:"obtained_at"`
}

// Expired reports whether the access token is past (or within 30s of)
// its advertised lifetime.
func (t Token) Expired() bool {
	if t.AccessToken == "" {
		return true
	}
	expiry := t.ObtainedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
	return !timeutil.Now().Add(time.Second * 30).Before(expiry)
}

func (c *Client) postForm(ctx context.Context, form url.Values) (Token, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(form.Encode()).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		Post(c.endpoint.TokenURL)
	if err != nil {
		return Token{}, err
	}
	err = restyutil.CheckStatus(res)
	if err != nil {
		return Token{}, err
	}

	var token Token
	err = json.Unmarshal(res.Body(), &token)
	if err != nil {
		return Token{}, err
	}
	token.ObtainedAt = timeutil.Now()
	return token, nil
}

type Client struct {
	http     *resty.Client
	endpoint Endpoint
}

func NewClient(http *resty.Client, endpoint Endpoint) *Client {
	return &Client{http: http, endpoint: endpoint}
}

// PasswordGrant exchanges a username and password for a token.
func (c *Client) PasswordGrant(ctx context.Context, username, password string) (Token, error) {
	ctx, span := tracer.Start(ctx, "PasswordGrant")
	defer span.End()

	span.SetAttributes(
		attribute.KeyValue{
			Key:   "token_url",
			Value: attribute.StringValue(c.endpoint.TokenURL),
		},
		attribute.KeyValue{
			Key:   "client_id",
			Value: attribute.StringValue(c.endpoint.ClientID),
		},
		attribute.KeyValue{
			Key:   "username",
			Value: attribute.StringValue(username),
		},
	)

	form := url.Values{}
	form.Add("grant_type", "password")
	form.Add("client_id", c.endpoint.ClientID)
	form.Add("username", username)
	form.Add("password", password)

	token, err := c.postForm(ctx, form)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to obtain token")
		return Token{}, err
	}
	return token, nil
}

// Refresh trades a refresh token for a fresh access token. Providers may
// omit the refresh token from the response, in which case the original
// one is carried over.
func (c *Client) Refresh(ctx context.Context, original Token) (Token, error) {
	ctx, span := tracer.Start(ctx, "Refresh")
	defer span.End()

	if original.RefreshToken == "" {
		span.RecordError(ErrNotRefreshable)
		span.SetStatus(codes.Error, "token is not refreshable")
		return Token{}, ErrNotRefreshable
	}

	form := url.Values{}
	form.Add("grant_type", "refresh_token")
	form.Add("client_id", c.endpoint.ClientID)
	form.Add("refresh_token", original.RefreshToken)
	if original.Scope != "" {
		form.Add("scope", original.Scope)
	}

	token, err := c.postForm(ctx, form)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh token")
		return Token{}, err
	}
	if token.RefreshToken == "" {
		token.RefreshToken = original.RefreshToken
	}
	return token, nil
}
