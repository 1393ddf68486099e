package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"canvass-bknd/internal/auth"
	"canvass-bknd/internal/config"
	"canvass-bknd/internal/logger"
	model "canvass-bknd/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// SessionService exchanges a cloud-identity sign-in for local tokens and
// manages refresh rotation. The OAuth dance itself happens outside this
// service; what arrives here is the provider's identity payload.
type SessionService struct {
	db   *bun.DB
	jwt  *auth.JWTManager
	cfg  *config.Config
	logr *logger.Logger
}

func NewSessionService(db *bun.DB, jwt *auth.JWTManager, cfg *config.Config, logr *logger.Logger) *SessionService {
	return &SessionService{db: db, jwt: jwt, cfg: cfg, logr: logr}
}

type UserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Exchange provisions (or refreshes) the user row for a cloud identity
// and issues a token pair.
func (s *SessionService) Exchange(ctx context.Context, identity model.CloudIdentity, deviceInfo string) (*auth.TokenPair, *UserInfo, error) {
	if identity.Email == "" {
		return nil, nil, fmt.Errorf("identity missing email")
	}

	var u model.User
	err := s.db.NewSelect().Model(&u).Where("email = ?", identity.Email).Scan(ctx)
	switch {
	case err == sql.ErrNoRows:
		u = model.User{
			Email:     identity.Email,
			Name:      identity.Name,
			Picture:   identity.Picture,
			SubjectID: identity.SubjectID,
		}
		if _, err := s.db.NewInsert().Model(&u).Exec(ctx); err != nil {
			s.logr.Error("failed to create user", zap.Error(err), zap.String("email", identity.Email))
			return nil, nil, fmt.Errorf("failed to create user account")
		}
		s.logr.Info("created new user", zap.String("email", identity.Email), zap.String("id", u.ID.String()))
	case err != nil:
		s.logr.Error("database error", zap.Error(err), zap.String("email", identity.Email))
		return nil, nil, fmt.Errorf("database error")
	default:
		// Keep name/picture fresh from the provider.
		if u.Name != identity.Name || u.Picture != identity.Picture {
			_, _ = s.db.NewUpdate().Model(&u).
				Set("name = ?", identity.Name).
				Set("picture = ?", identity.Picture).
				Where("id = ?", u.ID).
				Exec(ctx)
		}
	}

	now := time.Now().UTC()
	_, _ = s.db.NewUpdate().Model(&model.User{LastLoginAt: &now}).Where("id = ?", u.ID).Exec(ctx)

	pair, err := s.jwt.GenerateTokenPair(u.ID.String(), u.Email, s.cfg.AccessTokenTTL, s.cfg.RefreshTokenTTL, u.TokenVersion)
	if err != nil {
		s.logr.Error("token generation failed", zap.Error(err), zap.String("user_id", u.ID.String()))
		return nil, nil, fmt.Errorf("failed to generate tokens")
	}

	if err := s.storeRefreshToken(ctx, u.ID, pair.RefreshToken, pair.RefreshExp, pair.JTI, deviceInfo); err != nil {
		s.logr.Error("failed to store refresh token", zap.Error(err), zap.String("user_id", u.ID.String()))
		return nil, nil, fmt.Errorf("failed to store session")
	}

	userInfo := &UserInfo{
		ID:      u.ID.String(),
		Email:   u.Email,
		Name:    identity.Name,
		Picture: identity.Picture,
	}
	return pair, userInfo, nil
}

// storeRefreshToken stores refresh token hashed and enforces 2 sessions per user
func (s *SessionService) storeRefreshToken(ctx context.Context, userID uuid.UUID, refreshToken string, expiresAt time.Time, jti string, deviceInfo string) error {
	// 1) cleanup expired tokens for user
	_, _ = s.db.NewDelete().Model((*model.RefreshToken)(nil)).Where("user_id = ? AND expires_at < now()", userID).Exec(ctx)

	// 2) enforce max 2 active sessions (non-revoked & not expired)
	var count int
	err := s.db.NewSelect().ColumnExpr("count(*)").Table("refresh_tokens").Where("user_id = ? AND revoked = false AND expires_at > now()", userID).Scan(ctx, &count)
	if err == nil && count >= 2 {
		toRemove := count - 1 // leave 1 plus new => 2
		_, _ = s.db.NewDelete().Model((*model.RefreshToken)(nil)).
			Where("id IN (SELECT id FROM refresh_tokens WHERE user_id = ? AND revoked = false AND expires_at > now() ORDER BY created_at ASC LIMIT ?)", userID, toRemove).
			Exec(ctx)
	}

	// bcrypt over the SHA256 digest: lookup is by JTI, the hash only
	// protects the token at rest.
	hashed, err := bcrypt.GenerateFromPassword([]byte(auth.DigestToken(refreshToken)), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	rt := model.RefreshToken{
		UserID:     userID,
		JTI:        jti,
		TokenHash:  string(hashed),
		DeviceInfo: &deviceInfo,
		Revoked:    false,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  expiresAt,
	}
	_, err = s.db.NewInsert().Model(&rt).Exec(ctx)
	return err
}

// Refresh: takes refresh token string, verifies JWT, finds DB record by JTI, rotates
func (s *SessionService) Refresh(ctx context.Context, refreshToken string, deviceInfo string) (*auth.TokenPair, error) {
	claims, err := s.jwt.VerifyToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}
	if claims["typ"] != string(auth.RefreshToken) {
		return nil, fmt.Errorf("not a refresh token")
	}
	jti, ok := claims["jti"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid token jti")
	}

	var rt model.RefreshToken
	err = s.db.NewSelect().Model(&rt).Where("jti = ? AND revoked = false AND expires_at > now()", jti).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh token not found or revoked")
	}
	if bcrypt.CompareHashAndPassword([]byte(rt.TokenHash), []byte(auth.DigestToken(refreshToken))) != nil {
		return nil, fmt.Errorf("refresh token mismatch")
	}

	var u model.User
	err = s.db.NewSelect().Model(&u).Where("id = ?", rt.UserID).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("user not found")
	}

	// rotate: revoke old token and issue a fresh pair
	_, _ = s.db.NewUpdate().Model(&model.RefreshToken{Revoked: true}).Where("id = ?", rt.ID).Exec(ctx)

	pair, err := s.jwt.GenerateTokenPair(u.ID.String(), u.Email, s.cfg.AccessTokenTTL, s.cfg.RefreshTokenTTL, u.TokenVersion)
	if err != nil {
		return nil, err
	}
	if err := s.storeRefreshToken(ctx, u.ID, pair.RefreshToken, pair.RefreshExp, pair.JTI, deviceInfo); err != nil {
		return nil, err
	}

	return pair, nil
}

// Logout: revoke a refresh token by JTI
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.jwt.VerifyToken(refreshToken)
	if err != nil {
		return err
	}
	jti, ok := claims["jti"].(string)
	if !ok {
		return fmt.Errorf("invalid jti")
	}
	_, err = s.db.NewUpdate().Model(&model.RefreshToken{Revoked: true}).Where("jti = ?", jti).Exec(ctx)
	return err
}

func (s *SessionService) CheckTokenVersion(ctx context.Context, userID string, tokenVersion int) (bool, error) {
	var user model.User
	err := s.db.NewSelect().Model(&user).Where("id = ?", userID).Scan(ctx)
	if err != nil {
		return false, err
	}
	return user.TokenVersion == tokenVersion, nil
}
