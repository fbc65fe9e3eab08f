package server

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/enrollment/internal/config"
	obscontext "github.com/smallbiznis/enrollment/internal/observability/context"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	contextAdminKey = "admin_actor"
	actorAdmin      = "admin"
)

// AdminAuthenticator resolves a bearer credential to the operator it belongs
// to. It returns ErrUnauthorized for anything it does not recognise.
type AdminAuthenticator interface {
	Authenticate(token string) (string, error)
}

type staticTokenAuthenticator struct {
	token []byte
	hash  []byte
}

// NewStaticTokenAuthenticator checks bearer tokens against ADMIN_TOKEN_HASH
// (bcrypt) or, when no hash is set, ADMIN_TOKEN. With neither configured every
// admin request is rejected.
func NewStaticTokenAuthenticator(cfg config.Config, log *zap.Logger) AdminAuthenticator {
	auth := &staticTokenAuthenticator{}
	if hash := strings.TrimSpace(cfg.AdminTokenHash); hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			log.Warn("admin.auth.disabled", zap.String("reason", "ADMIN_TOKEN_HASH is not a bcrypt hash"), zap.Error(err))
			return auth
		}
		auth.hash = []byte(hash)
		return auth
	}

	token := strings.TrimSpace(cfg.AdminToken)
	if token == "" {
		log.Warn("admin.auth.disabled", zap.String("reason", "ADMIN_TOKEN not set"))
	}
	auth.token = []byte(token)
	return auth
}

func (a *staticTokenAuthenticator) Authenticate(token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	switch {
	case len(a.hash) > 0:
		if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
			return "", ErrUnauthorized
		}
	case len(a.token) > 0:
		if subtle.ConstantTimeCompare(a.token, []byte(token)) != 1 {
			return "", ErrUnauthorized
		}
	default:
		return "", ErrUnauthorized
	}
	return "operator", nil
}

// AdminRequired authenticates the admin surface with a bearer token.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || s.admin == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor, err := s.admin.Authenticate(token)
		if err != nil {
			if !errors.Is(err, ErrUnauthorized) {
				err = errors.Join(ErrUnauthorized, err)
			}
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), actorAdmin, actor)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextAdminKey, actor)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}
