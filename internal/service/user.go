package service

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"chatroom/internal/apperr"
	"chatroom/internal/auth"
	"chatroom/internal/db"
	"chatroom/internal/models"
	"chatroom/internal/session"
)

// UserService covers registration, login, token refresh/logout, and
// profile/admin management — the teacher's UserService scoped to a
// single GORM row is split here across Mongo documents and the
// session-package denylist, since refresh tokens are now JWTs rather
// than stored rows (see DESIGN.md's refresh-token redesign note).
type UserService struct {
	users         *mongo.Collection
	sessions      *session.Service
	accessSecret  string
	refreshSecret string
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewUserService(database *mongo.Database, sessions *session.Service, accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *UserService {
	return &UserService{
		users: database.Collection(db.UsersCollection), sessions: sessions,
		accessSecret: accessSecret, refreshSecret: refreshSecret,
		accessTTL: accessTTL, refreshTTL: refreshTTL,
	}
}

type UserDTO struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	Role        string     `json:"role"`
	Active      bool       `json:"active"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type AuthResult struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	User         UserDTO `json:"user"`
}

func toUserDTO(u models.User) UserDTO {
	return UserDTO{
		ID: u.ID.Hex(), Email: u.Email, DisplayName: u.DisplayName, Role: string(u.Role),
		Active: u.Active, AvatarURL: u.AvatarURL, LastLoginAt: u.LastLoginAt, CreatedAt: u.CreatedAt,
	}
}

// Register implements POST /auth/register.
func (s *UserService) Register(ctx context.Context, email, password, displayName string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.users.FindOne(ctx, bson.M{"email": email}).Err(); err == nil {
		return nil, errEmailTaken()
	} else if err != mongo.ErrNoDocuments {
		return nil, apperr.Wrap(apperr.Internal, "check existing email", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "hash password", err)
	}

	now := time.Now().UTC()
	user := models.User{
		ID: primitive.NewObjectID(), Email: email, PasswordHash: hash, DisplayName: displayName,
		Role: models.RoleUser, Active: true, CreatedAt: now, UpdatedAt: now,
	}
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create user", err)
	}

	return s.issueTokens(user)
}

// Login implements POST /auth/login.
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user models.User
	err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, errInvalidCredentials()
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "lookup user", err)
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, errInvalidCredentials()
	}
	if !user.Active {
		return nil, apperr.Forbiddenf("account deactivated")
	}

	now := time.Now().UTC()
	if _, err := s.users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": bson.M{"lastLoginAt": now}}); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "update last login", err)
	}
	user.LastLoginAt = &now

	return s.issueTokens(user)
}

// Refresh implements POST /auth/refresh: rotates the refresh token and
// blacklists the old one.
func (s *UserService) Refresh(ctx context.Context, oldRefreshToken string) (*AuthResult, error) {
	claims, err := auth.ParseToken(oldRefreshToken, s.refreshSecret)
	if err != nil {
		return nil, apperr.AuthMissingf("invalid refresh token")
	}
	valid, err := s.sessions.IsValid(ctx, oldRefreshToken, claims.ID, claims.IssuedAt.Time.UnixMilli())
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "check refresh token validity", err)
	}
	if !valid {
		return nil, apperr.AuthMissingf("refresh token revoked")
	}

	user, err := s.findByID(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, apperr.Forbiddenf("account deactivated")
	}

	if err := s.sessions.Blacklist(ctx, oldRefreshToken); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "blacklist old refresh token", err)
	}

	return s.issueTokens(*user)
}

// Logout implements POST /auth/logout: blacklists the refresh token.
func (s *UserService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.sessions.Blacklist(ctx, refreshToken); err != nil {
		return apperr.Wrap(apperr.Internal, "blacklist refresh token", err)
	}
	return nil
}

// IsActive implements auth.UserActive.
func (s *UserService) IsActive(ctx context.Context, userID string) (bool, error) {
	user, err := s.findByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.Active, nil
}

// Profile implements GET /auth/profile and GET /users/me.
func (s *UserService) Profile(ctx context.Context, userID string) (*UserDTO, error) {
	user, err := s.findByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	dto := toUserDTO(*user)
	return &dto, nil
}

// UpdateProfile implements PATCH /users/me: the caller may change only
// their own display name and avatar.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, displayName, avatarURL *string) (*UserDTO, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if displayName != nil {
		set["displayName"] = *displayName
	}
	if avatarURL != nil {
		set["avatarUrl"] = *avatarURL
	}
	userOID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperr.ValidationFailf("invalid user id")
	}
	if _, err := s.users.UpdateOne(ctx, bson.M{"_id": userOID}, bson.M{"$set": set}); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "update profile", err)
	}
	return s.Profile(ctx, userID)
}

// GetByID implements GET /users/:id (admin).
func (s *UserService) GetByID(ctx context.Context, userID string) (*UserDTO, error) {
	user, err := s.findByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	dto := toUserDTO(*user)
	return &dto, nil
}

// Delete implements DELETE /users/:id (admin): deactivates rather than
// physically removing, per spec §3's "never physically deleted while
// referenced by messages".
func (s *UserService) Delete(ctx context.Context, userID string) error {
	return s.SetActive(ctx, userID, false)
}

// SetRole implements PATCH /users/:id/role (admin).
func (s *UserService) SetRole(ctx context.Context, userID string, role models.Role) error {
	userOID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return apperr.ValidationFailf("invalid user id")
	}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userOID}, bson.M{"$set": bson.M{"role": role, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update role", err)
	}
	if res.MatchedCount == 0 {
		return errUserNotFound()
	}
	return nil
}

// SetActive implements PATCH /users/:id/{activate,deactivate} (admin).
func (s *UserService) SetActive(ctx context.Context, userID string, active bool) error {
	userOID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return apperr.ValidationFailf("invalid user id")
	}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userOID}, bson.M{"$set": bson.M{"active": active, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update active flag", err)
	}
	if res.MatchedCount == 0 {
		return errUserNotFound()
	}
	if !active {
		if err := s.sessions.BlacklistUser(ctx, userID); err != nil {
			return apperr.Wrap(apperr.Internal, "blacklist deactivated user", err)
		}
	}
	return nil
}

func (s *UserService) issueTokens(user models.User) (*AuthResult, error) {
	at, err := auth.GenerateToken(user.ID.Hex(), user.Email, string(user.Role), s.accessSecret, s.accessTTL)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "generate access token", err)
	}
	rt, err := auth.GenerateToken(user.ID.Hex(), user.Email, string(user.Role), s.refreshSecret, s.refreshTTL)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "generate refresh token", err)
	}
	return &AuthResult{AccessToken: at, RefreshToken: rt, User: toUserDTO(user)}, nil
}

func (s *UserService) findByID(ctx context.Context, userID string) (*models.User, error) {
	userOID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperr.ValidationFailf("invalid user id")
	}
	var user models.User
	err = s.users.FindOne(ctx, bson.M{"_id": userOID}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, errUserNotFound()
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "lookup user", err)
	}
	return &user, nil
}
