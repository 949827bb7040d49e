package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"oracle-service/internal/utils"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	localUserID  = "user_id"
	localAdminID = "admin_id"
)

// Claims mirrors the token issued by the auth service.
type Claims struct {
	jwt.RegisteredClaims
	Id     string
	UserID string
	Email  string
	Phone  string
	Roles  []string
}

type Middleware struct {
	jwtSecret []byte
	adminRole string
}

func NewMiddleware(jwtSecret, adminRole string) *Middleware {
	return &Middleware{
		jwtSecret: []byte(jwtSecret),
		adminRole: adminRole,
	}
}

// RequireUser reads the holder id the gateway attaches after ForwardAuth.
func (m *Middleware) RequireUser(c fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get("X-User-ID"))
	if userID == "" {
		return c.Status(http.StatusUnauthorized).JSON(
			utils.CreateErrorResponse("UNAUTHORIZED", "User ID is required"))
	}
	c.Locals(localUserID, userID)
	return c.Next()
}

// RequireAdmin validates the bearer token and checks for the admin role.
func (m *Middleware) RequireAdmin(c fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Status(http.StatusUnauthorized).JSON(
			utils.CreateErrorResponse("MISSING_TOKEN", "authorization header required"))
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := m.verifyToken(tokenString)
	if err != nil {
		slog.Warn("admin token rejected", "path", c.Path(), "error", err)
		return c.Status(http.StatusUnauthorized).JSON(
			utils.CreateErrorResponse("INVALID_TOKEN", "token validation failed"))
	}
	if !slices.Contains(claims.Roles, m.adminRole) {
		return c.Status(http.StatusForbidden).JSON(
			utils.CreateErrorResponse("FORBIDDEN", "admin role required"))
	}

	c.Locals(localAdminID, claims.UserID)
	return c.Next()
}

func (m *Middleware) verifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.jwtSecret, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

func userID(c fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func adminID(c fiber.Ctx) string {
	id, _ := c.Locals(localAdminID).(string)
	if id == "" {
		return "admin"
	}
	return id
}
