package middleware

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/nao1215/aptnotify/pkg/apperror"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの数値ID。
	UserID int64 `json:"user_id"`
	// Role はユーザーのロール（"admin" / "resident" / "service"）。
	Role string `json:"role"`
}

const (
	// RoleAdmin はアパート管理者を表す。
	RoleAdmin = "admin"
	// RoleResident は入居者を表す。
	RoleResident = "resident"
	// RoleService は通知を発行する内部サービスを表す。
	RoleService = "service"
)

const (
	contextKeyUserID = "user_id"
	contextKeyRole   = "role"
	// cookieNameToken はEventSourceなどヘッダーを設定できないクライアント向けのトークンCookie名。
	cookieNameToken = "access_token"
	tokenIssuer     = "apartment-api"
)

// GenerateJWT はユーザー情報から有効期限ttlのJWTトークンを生成する。
func GenerateJWT(secret string, userID int64, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		UserID: userID,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// トークンはAuthorizationヘッダー（Bearer）を優先し、無ければaccess_token Cookieから取得する。
// 検証に成功した場合、コンテキストに "user_id" と "role" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractToken(c)
		if err != nil {
			abortWithError(c, apperror.Unauthorized(err.Error()))
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.UserID <= 0 {
			abortWithError(c, apperror.Unauthorized("トークンが無効です"))
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Set(contextKeyRole, claims.Role)
		c.Next()
	}
}

// extractToken はリクエストから署名済みトークン文字列を取り出す。
func extractToken(c *gin.Context) (string, error) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			return "", errors.New("Bearer トークン形式が不正です")
		}
		return tokenString, nil
	}
	if cookie, err := c.Cookie(cookieNameToken); err == nil && cookie != "" {
		return cookie, nil
	}
	return "", errors.New("認証トークンが必要です")
}

// RequireRole は指定ロールのいずれかを持つユーザーのみ通過させるミドルウェアを返す。
// JWTAuthの後に適用する必要がある。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, GetRole(c)) {
			abortWithError(c, apperror.Forbidden("この操作を行う権限がありません"))
			return
		}
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// 未認証の場合は第2戻り値がfalseになる。
func GetUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(contextKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

// SetUserID はGinコンテキストにユーザーIDとロールを設定する。
// テストや内部呼び出しでJWTAuthを経由せずに認証済み状態を作るために使用する。
func SetUserID(c *gin.Context, userID int64, role string) {
	c.Set(contextKeyUserID, userID)
	c.Set(contextKeyRole, role)
}

// GetRole はGinコンテキストからロールを取得する。
func GetRole(c *gin.Context) string {
	return c.GetString(contextKeyRole)
}

// abortWithError はエラーを記録し、共通形式のJSONでリクエストを中断する。
func abortWithError(c *gin.Context, err *apperror.Error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(err.Status, gin.H{"error": err.Message})
}
