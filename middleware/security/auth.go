package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"dmchat/tools/errs"

	"github.com/gin-gonic/gin"
)

// context key holding the raw session token, if the request carried one
const PPCtxAuthKey = "authorization"

const HeaderInternalSecret = "X-Internal-Secret"

type Options struct {
	CookieName                string // 默认 "token"
	EnableAuthorizationBearer bool   // 默认 true
	QueryParam                string // 默认 "token"；为空则不读 query
	// Required aborts requests without a token. The websocket route leaves
	// it off: unauthenticated sockets are accepted as anonymous.
	Required bool
}

func DefaultOptions() *Options {
	return &Options{
		CookieName:                "token",
		EnableAuthorizationBearer: true,
		QueryParam:                "token",
	}
}

// Middleware extracts the session token from cookie, then Authorization
// bearer, then query string, and stores it under PPCtxAuthKey.
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := ExtractToken(c.Request, opts)
		if token != "" {
			c.Set(PPCtxAuthKey, token)
		}
		if token == "" && opts.Required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenMissing)
			return
		}
		c.Next()
	}
}

func ExtractToken(r *http.Request, opts *Options) string {
	if opts.CookieName != "" {
		if ck, err := r.Cookie(opts.CookieName); err == nil {
			if v := strings.TrimSpace(ck.Value); v != "" {
				return v
			}
		}
	}
	if opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(r.Header.Get("Authorization")); len(authz) > 7 &&
			strings.EqualFold(authz[:7], "bearer ") {
			if v := strings.TrimSpace(authz[7:]); v != "" {
				return v
			}
		}
	}
	if opts.QueryParam != "" {
		return strings.TrimSpace(r.URL.Query().Get(opts.QueryParam))
	}
	return ""
}

// TokenFrom returns the token stored by Middleware, or "".
func TokenFrom(c *gin.Context) string {
	return c.GetString(PPCtxAuthKey)
}

// SharedSecret guards internal routes. An empty secret rejects every request.
func SharedSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderInternalSecret)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid)
			return
		}
		c.Next()
	}
}
