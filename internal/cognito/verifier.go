// Package cognito verifies Amazon Cognito user pool JWTs against the pool's
// published JSON Web Key Set.
package cognito

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// TokenUse is the expected value of the token_use claim.
type TokenUse string

const (
	TokenUseAccess TokenUse = "access"
	TokenUseID     TokenUse = "id"
)

// Verifier verifies a raw JWT and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (jwt.MapClaims, error)
}

// Config describes the user pool tokens are issued by.
type Config struct {
	UserPoolID string
	ClientID   string
	// Region defaults to the prefix of UserPoolID ("us-east-1" for
	// "us-east-1_AbCd").
	Region string
	// Issuer defaults to https://cognito-idp.<region>.amazonaws.com/<pool>.
	Issuer string
	// JWKSURL defaults to <issuer>/.well-known/jwks.json.
	JWKSURL    string
	TokenUse   TokenUse
	HTTPClient *http.Client
	// Leeway is the clock skew tolerated for exp/nbf/iat.
	Leeway time.Duration
}

// JWTVerifier is a Verifier for one user pool and app client.
type JWTVerifier struct {
	clientID string
	issuer   string
	tokenUse TokenUse
	leeway   time.Duration
	keys     *keySet
}

// NewVerifier validates cfg and returns a verifier. Keys are fetched lazily
// on the first verification.
func NewVerifier(cfg Config) (*JWTVerifier, error) {
	if cfg.UserPoolID == "" && cfg.Issuer == "" {
		return nil, errors.New("cognito: user pool id is not configured")
	}
	if cfg.Issuer == "" {
		region := cfg.Region
		if region == "" {
			var ok bool
			region, _, ok = strings.Cut(cfg.UserPoolID, "_")
			if !ok || region == "" {
				return nil, errors.Errorf("cognito: cannot derive region from user pool id %q", cfg.UserPoolID)
			}
		}
		cfg.Issuer = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, cfg.UserPoolID)
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = strings.TrimSuffix(cfg.Issuer, "/") + "/.well-known/jwks.json"
	}
	if cfg.TokenUse == "" {
		cfg.TokenUse = TokenUseAccess
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWTVerifier{
		clientID: cfg.ClientID,
		issuer:   cfg.Issuer,
		tokenUse: cfg.TokenUse,
		leeway:   cfg.Leeway,
		keys:     newKeySet(cfg.JWKSURL, client),
	}, nil
}

// Issuer returns the expected iss claim.
func (v *JWTVerifier) Issuer() string { return v.issuer }

// Verify checks the signature, issuer, expiry, token use and client of token.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		return v.keys.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse jwt token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("claims in jwt token is not map claims")
	}

	if use, _ := claims["token_use"].(string); use != string(v.tokenUse) {
		return nil, errors.Errorf("token use %q is not %q", use, v.tokenUse)
	}
	if v.clientID != "" {
		if err := v.checkClient(claims); err != nil {
			return nil, err
		}
	}
	return claims, nil
}

func (v *JWTVerifier) checkClient(claims jwt.MapClaims) error {
	if v.tokenUse == TokenUseAccess {
		if id, _ := claims["client_id"].(string); id != v.clientID {
			return errors.Errorf("client id %q is not allowed", id)
		}
		return nil
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return errors.Wrap(err, "read audience")
	}
	for _, a := range aud {
		if a == v.clientID {
			return nil
		}
	}
	return errors.Errorf("audience %v is not allowed", []string(aud))
}
