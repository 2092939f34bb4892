package api

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/purushoth411/postmanback/domain"
)

const defaultJWKSCacheTTL = 15 * time.Minute

// RoleSuperAdmin may edit the milestone catalog.
const RoleSuperAdmin = "SUPERADMIN"

// Identity is the caller resolved from a bearer token.
type Identity struct {
	Actor domain.ActorID
	Role  string
}

// Auth validates incoming JWT tokens.
type Auth struct {
	jwks     *keyfunc.JWKS
	audience string
	issuer   string
	secret   []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth verifies RS256 tokens against a JWKS endpoint.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{
		jwks:        jwks,
		audience:    audience,
		issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyCacheTTL: defaultJWKSCacheTTL,
	}
}

// NewTestAuth verifies HS256 tokens signed with a shared secret.
func NewTestAuth(secret []byte, audience, issuer string) *Auth {
	return &Auth{
		audience: audience,
		issuer:   issuer,
		secret:   secret,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// Identify resolves the caller from an Authorization header value.
func (a *Auth) Identify(header string) (Identity, error) {
	token, err := bearerToken(header)
	if err != nil {
		return Identity{}, err
	}
	return a.identityFromBearer(token)
}

func (a *Auth) identityFromBearer(token string) (Identity, error) {
	parsed, err := a.parser.Parse(token, a.keyFor)
	if err != nil {
		return Identity{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return Identity{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return Identity{}, errors.New("token not valid yet")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, false) {
		return Identity{}, errors.New("invalid audience")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, false) {
		return Identity{}, errors.New("invalid issuer")
	}

	sub, _ := claims["sub"].(string)
	actor, err := actorFromSubject(sub)
	if err != nil {
		return Identity{}, err
	}
	role, _ := claims["role"].(string)
	return Identity{Actor: actor, Role: strings.ToUpper(role)}, nil
}

// actorFromSubject accepts "42" as well as provider prefixed "auth0|42".
func actorFromSubject(sub string) (domain.ActorID, error) {
	if i := strings.LastIndexByte(sub, '|'); i >= 0 {
		sub = sub[i+1:]
	}
	n, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid sub")
	}
	return domain.ActorID(n), nil
}

func (a *Auth) keyFor(token *jwt.Token) (any, error) {
	if a.secret != nil {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	}
	if a.jwks == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}
	key, err := a.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
