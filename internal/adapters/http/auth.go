package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ykwon/stormcall/internal/domain"
)

// Tokens cover joining one call, not a whole day of them.
const tokenTTL = time.Hour

// JoinClaims bind a peer identity to one workshop session. The signal
// endpoint trusts nothing else.
type JoinClaims struct {
	PeerID      string `json:"peer_id"`
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

type tokenRequest struct {
	Name string `json:"name" binding:"required"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	PeerID    string `json:"peer_id"`
	SessionID string `json:"session_id"`
}

// IssueToken mints a join token for one session. The peer id is chosen
// here so clients cannot impersonate each other on the websocket.
func IssueToken(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := domain.ValidateDisplayName(req.Name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sessionID := c.Param("id")
		peerID := uuid.NewString()

		claims := JoinClaims{
			PeerID:      peerID,
			SessionID:   sessionID,
			DisplayName: req.Name,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
			},
		}

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte(secret))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign token"})
			return
		}

		c.JSON(http.StatusOK, tokenResponse{
			Token:     signed,
			PeerID:    peerID,
			SessionID: sessionID,
		})
	}
}

// JoinAuth validates the join token from the Authorization header or,
// for websocket clients that cannot set headers, a token query param.
func JoinAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		token, err := jwt.ParseWithClaims(raw, &JoinClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		claims, ok := token.Claims.(*JoinClaims)
		if !ok || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			return
		}

		c.Set("peer_id", claims.PeerID)
		c.Set("session_id", claims.SessionID)
		c.Set("display_name", claims.DisplayName)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.Split(h, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
