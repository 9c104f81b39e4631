package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"jan-server/services/attachments-api/internal/config"
	"jan-server/services/attachments-api/internal/domain/rowfiles"
)

const callerKey = "rowfiles_caller"

type callerContextKey struct{}

// Validator validates bearer JWTs against the issuer's JWKS.
type Validator struct {
	cfg  *config.Config
	log  zerolog.Logger
	jwks *keyfunc.JWKS
}

// NewValidator initializes JWKS fetching when auth is enabled.
func NewValidator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Validator, error) {
	logger := log.With().Str("component", "auth").Logger()
	if !cfg.AuthEnabled {
		logger.Warn().Msg("authentication disabled; every caller may read and write row files")
		return &Validator{cfg: cfg, log: logger}, nil
	}

	jwks, err := keyfunc.Get(cfg.AuthJWKSURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Error().Err(err).Msg("jwks refresh error")
		},
	})
	if err != nil {
		return nil, err
	}

	return &Validator{cfg: cfg, log: logger, jwks: jwks}, nil
}

// Middleware authenticates the request and stores the Caller on the context.
func (v *Validator) Middleware() gin.HandlerFunc {
	if v == nil || !v.cfg.AuthEnabled {
		return func(c *gin.Context) {
			setCaller(c, rowfiles.Caller{Subject: "anonymous"})
			c.Next()
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithIssuer(v.cfg.AuthIssuer),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
	}
	if audience := strings.TrimSpace(v.cfg.Account); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return func(c *gin.Context) {
		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc, opts...)
		if err != nil || !token.Valid {
			v.log.Debug().Err(err).Msg("rejected bearer token")
			abortUnauthorized(c, "invalid token")
			return
		}

		setCaller(c, CallerFromClaims(claims))
		c.Next()
	}
}

// Ready indicates if the validator is prepared.
func (v *Validator) Ready() bool {
	if v == nil || !v.cfg.AuthEnabled {
		return true
	}
	return v.jwks != nil
}

// Close stops background JWKS refreshes.
func (v *Validator) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// CallerFromClaims reads the subject, realm roles and app grants of a token.
func CallerFromClaims(claims jwt.MapClaims) rowfiles.Caller {
	caller := rowfiles.Caller{}
	caller.Subject, _ = claims["sub"].(string)
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		caller.Roles = stringList(realm["roles"])
	}
	caller.Apps = stringList(claims["apps"])
	return caller
}

// CallerFrom returns the authenticated caller of a request.
func CallerFrom(c *gin.Context) rowfiles.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(rowfiles.Caller); ok {
			return caller
		}
	}
	return CallerFromContext(c.Request.Context())
}

// CallerFromContext returns the caller stored by Middleware.
func CallerFromContext(ctx context.Context) rowfiles.Caller {
	caller, _ := ctx.Value(callerContextKey{}).(rowfiles.Caller)
	return caller
}

// WithCaller stores caller on ctx.
func WithCaller(ctx context.Context, caller rowfiles.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

func setCaller(c *gin.Context, caller rowfiles.Caller) {
	c.Set(callerKey, caller)
	c.Request = c.Request.WithContext(WithCaller(c.Request.Context(), caller))
}

func stringList(raw any) []string {
	switch v := raw.(type) {
	case string:
		return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    "unauthorized",
		"error":   message,
		"message": message,
	})
}
