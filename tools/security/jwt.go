package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dmchat/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

// Options controls signing and token TTL.
type Options struct {
	Secret []byte        // HMAC secret (JWT_SECRET)
	Alg    string        // HS256/HS384/HS512 (default HS256)
	TTL    time.Duration // token lifetime for Generate; 0 means no exp claim
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256"}
}

// Identity is what a verified token yields.
type Identity struct {
	UserID   string `mapstructure:"userId"`
	Username string `mapstructure:"username"`
}

// Verifier resolves an opaque token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type JWTVerifier struct {
	opts Options
}

func NewJWTVerifier(opts Options) *JWTVerifier {
	return &JWTVerifier{opts: opts}
}

// Generate signs {userId, username} claims, the shape the login endpoint issues.
func Generate(opts Options, id Identity) (string, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwtlib.MapClaims{
		"userId":   id.UserID,
		"username": id.Username,
		"iat":      now.Unix(),
	}
	if opts.TTL > 0 {
		claims["exp"] = now.Add(opts.TTL).Unix()
	}
	return jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, errs.ErrTokenMissing.Wrap()
	}
	method, err := signingMethod(v.opts.Alg)
	if err != nil {
		return Identity{}, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// HMAC family only
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.opts.Secret, nil
	}, jwtlib.WithValidMethods([]string{method.Alg()}))
	if err != nil {
		return Identity{}, errs.ErrTokenInvalid.WrapMsg(err.Error())
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok || !parsed.Valid {
		return Identity{}, errs.ErrTokenInvalid.WrapMsg("claims type mismatch")
	}
	id, err := decodeIdentity(claims)
	if err != nil {
		return Identity{}, errs.ErrTokenInvalid.WrapMsg(err.Error())
	}
	return id, nil
}

// decodeIdentity accepts numeric and string ids alike.
func decodeIdentity(claims jwtlib.MapClaims) (Identity, error) {
	var id Identity
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &id,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Identity{}, err
	}
	if err := dec.Decode(map[string]interface{}(claims)); err != nil {
		return Identity{}, err
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("userId claim missing")
	}
	return id, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
