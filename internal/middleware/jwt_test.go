package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-audit-api/internal/models"
	"github.com/noah-isme/sma-audit-api/internal/service"
)

const testSecret = "test-secret"

func securityForTest() *service.SecurityService {
	return service.NewSecurityService(nil, nil, nil, nil, nil, zap.NewNop(), nil, service.SecurityConfig{
		AccessTokenSecret: testSecret,
		AccessTokenExpiry: time.Hour,
	})
}

func signedToken(t *testing.T, claims *models.JWTClaims) string {
	t.Helper()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func runProtected(t *testing.T, authHeader string, extra ...gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWT(securityForTest())}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/protected", handlers...)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestJWTMissingHeader(t *testing.T) {
	rec := runProtected(t, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTMalformedHeader(t *testing.T) {
	rec := runProtected(t, "Token abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTInvalidToken(t *testing.T) {
	rec := runProtected(t, "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTValidToken(t *testing.T) {
	token := signedToken(t, &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin})
	rec := runProtected(t, "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRBACDeniesWrongRole(t *testing.T) {
	token := signedToken(t, &models.JWTClaims{UserID: "u1", Role: models.RoleStudent})
	rec := runProtected(t, "Bearer "+token, RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRBACAllowsListedRole(t *testing.T) {
	token := signedToken(t, &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin})
	rec := runProtected(t, "Bearer "+token, RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))
	assert.Equal(t, http.StatusOK, rec.Code)
}
