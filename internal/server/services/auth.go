// Package services contains server-side business logic. AuthService owns
// every account state transition: signup, login, refresh-token rotation,
// logout, email confirmation, password reset, current-user resolution and
// avatar updates.
package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/images"
	"github.com/dmitrijs2005/authkeeper/internal/server/mail"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/passwords"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/sessions"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
)

// Mailer queues account emails for background delivery.
type Mailer interface {
	Submit(ctx context.Context, kind mail.Kind, m mail.Message) bool
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  tokens.Token[tokens.Access]  `json:"access_token"`
	RefreshToken tokens.Token[tokens.Refresh] `json:"refresh_token"`
	TokenType    string                       `json:"token_type"`
}

type ConfirmResult int

const (
	ConfirmDone ConfirmResult = iota
	ConfirmAlreadyDone
)

type RequestResult int

const (
	RequestAccepted RequestResult = iota
	RequestAlreadyConfirmed
)

type ResetResult int

const (
	ResetRequested ResetResult = iota
	ResetUnknownUser
)

// Dependencies are the collaborators of AuthService.
type Dependencies struct {
	Codec      *tokens.Codec
	Hasher     passwords.Hasher
	Sessions   sessions.Store
	Mailer     Mailer
	Images     images.Store
	SessionTTL time.Duration
	Logger     logging.Logger
}

type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	codec       *tokens.Codec
	hasher      passwords.Hasher
	sessions    sessions.Store
	mailer      Mailer
	images      images.Store
	sessionTTL  time.Duration
	logger      logging.Logger
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, d Dependencies) *AuthService {
	l := d.Logger
	if l == nil {
		l = logging.Nop{}
	}
	return &AuthService{
		db:          db,
		repomanager: m,
		codec:       d.Codec,
		hasher:      d.Hasher,
		sessions:    d.Sessions,
		mailer:      d.Mailer,
		images:      d.Images,
		sessionTTL:  d.SessionTTL,
		logger:      l.With("module", "auth_service"),
	}
}

// Signup creates an unconfirmed account and queues the confirmation email.
func (s *AuthService) Signup(ctx context.Context, in SignupInput, baseURL string) (*models.User, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrorValidation, err.Error())
	}

	repo := s.repomanager.Users(s.db)

	_, err := repo.GetByEmail(ctx, in.Email)
	if err == nil {
		return nil, common.ErrAlreadyExists
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("signup: %w", err)
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("signup: hash password: %w", err)
	}

	user, err := repo.Create(ctx, &models.User{
		Email:        in.Email,
		UserName:     in.UserName,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("signup: %w", err)
	}

	s.logger.Info(ctx, "user signed up", "email", user.Email)
	s.queueEmail(ctx, mail.KindConfirmation, user, baseURL)

	return user, nil
}

// Login checks, in order, that the email exists, is confirmed and that the
// password matches. The new refresh token replaces any stored one.
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrUnknownEmail
		}
		return nil, fmt.Errorf("login: %w", err)
	}
	if !user.Confirmed {
		return nil, common.ErrEmailNotConfirmed
	}
	if !s.hasher.Verify(ctx, password, user.PasswordHash) {
		return nil, common.ErrInvalidPassword
	}

	pair, err := s.issuePair(user.Email)
	if err != nil {
		return nil, err
	}
	refresh := pair.RefreshToken.String()
	if err := repo.SetRefreshToken(ctx, user.ID, &refresh); err != nil {
		return nil, fmt.Errorf("login: store refresh token: %w", err)
	}

	return pair, nil
}

// Refresh rotates the refresh token. A token that verifies but is not the one
// stored for the user is treated as replayed: the stored token is cleared so
// the session ends, and ErrReplayDetected is returned.
func (s *AuthService) Refresh(ctx context.Context, presented tokens.Token[tokens.Refresh]) (*TokenPair, error) {
	email, err := tokens.VerifyFor(s.codec, presented)
	if err != nil {
		return nil, err
	}

	var (
		pair   *TokenPair
		replay bool
	)

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)

		user, err := repo.GetByEmailForUpdate(ctx, email)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidToken
			}
			return err
		}

		if user.RefreshToken == nil || *user.RefreshToken != presented.String() {
			replay = true
			// the clear must commit, so the tx function succeeds
			return repo.SetRefreshToken(ctx, user.ID, nil)
		}

		pair, err = s.issuePair(email)
		if err != nil {
			return err
		}
		refresh := pair.RefreshToken.String()
		return repo.SetRefreshToken(ctx, user.ID, &refresh)
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) {
			return nil, err
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}

	if replay {
		s.logger.Warn(ctx, "refresh token replay detected, session revoked", "email", email)
		return nil, common.ErrReplayDetected
	}
	return pair, nil
}

// Logout ends the session: the stored refresh token is cleared and the
// cached snapshot evicted.
func (s *AuthService) Logout(ctx context.Context, email string) error {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorUnauthorized
		}
		return fmt.Errorf("logout: %w", err)
	}
	if err := repo.SetRefreshToken(ctx, user.ID, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.evict(ctx, email)
	return nil
}

func (s *AuthService) ConfirmEmail(ctx context.Context, t tokens.Token[tokens.EmailConfirm]) (ConfirmResult, error) {
	email, err := tokens.VerifyFor(s.codec, t)
	if err != nil {
		return 0, err
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return 0, common.ErrInvalidToken
		}
		return 0, fmt.Errorf("confirm email: %w", err)
	}
	if user.Confirmed {
		return ConfirmAlreadyDone, nil
	}

	// Only the caller whose update flips the row reports ConfirmDone.
	changed, err := repo.SetConfirmed(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("confirm email: %w", err)
	}
	if !changed {
		return ConfirmAlreadyDone, nil
	}
	s.evict(ctx, email)
	s.logger.Info(ctx, "email confirmed", "email", email)

	return ConfirmDone, nil
}

// RequestEmailConfirmation re-sends the confirmation link. An unknown email
// gets the same answer as a pending one, without an email being sent.
func (s *AuthService) RequestEmailConfirmation(ctx context.Context, email, baseURL string) (RequestResult, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return RequestAccepted, nil
		}
		return 0, fmt.Errorf("request email confirmation: %w", err)
	}
	if user.Confirmed {
		return RequestAlreadyConfirmed, nil
	}

	s.queueEmail(ctx, mail.KindConfirmation, user, baseURL)
	return RequestAccepted, nil
}

// RequestPasswordReset queues a reset link. Unknown emails are reported as
// such to the caller.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email, baseURL string) (ResetResult, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return ResetUnknownUser, nil
		}
		return 0, fmt.Errorf("request password reset: %w", err)
	}

	s.queueEmail(ctx, mail.KindPasswordReset, user, baseURL)
	return ResetRequested, nil
}

// ResetPassword sets a new password for the token's subject and revokes its
// refresh token. Mismatched passwords are rejected before the token is
// looked at.
func (s *AuthService) ResetPassword(ctx context.Context, t tokens.Token[tokens.PasswordReset], newPassword, confirmPassword string) error {
	if newPassword != confirmPassword {
		return common.ErrPasswordMismatch
	}

	email, err := tokens.VerifyFor(s.codec, t)
	if err != nil {
		return err
	}

	if err := validatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %s", common.ErrorValidation, err.Error())
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidToken
		}
		return fmt.Errorf("reset password: %w", err)
	}

	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("reset password: hash: %w", err)
	}
	// The new hash and the cleared refresh token commit together.
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		if err := repo.SetPasswordHash(ctx, user.ID, hash); err != nil {
			return err
		}
		return repo.SetRefreshToken(ctx, user.ID, nil)
	})
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	s.evict(ctx, email)
	s.logger.Info(ctx, "password reset", "email", email)

	return nil
}

// Authenticate resolves the user behind an access token, preferring the
// session cache over the database.
func (s *AuthService) Authenticate(ctx context.Context, t tokens.Token[tokens.Access]) (*models.User, error) {
	email, err := tokens.VerifyFor(s.codec, t)
	if err != nil {
		return nil, err
	}

	if user, ok := s.cached(ctx, email); ok {
		return user, nil
	}

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	s.cache(ctx, user)
	return user, nil
}

// AvatarKey is the object key of a user's avatar. Re-uploads overwrite it.
func AvatarKey(email string) string {
	return "avatars/" + email
}

// UpdateAvatar crops the upload to a square PNG, stores it and records its
// URL. A file that does not decode as an image is a validation error.
func (s *AuthService) UpdateAvatar(ctx context.Context, user *models.User, image io.Reader) (*models.User, error) {
	avatar, err := images.Avatar(image)
	if err != nil {
		return nil, err
	}

	url, err := s.images.Upload(ctx, bytes.NewReader(avatar), AvatarKey(user.Email), images.AvatarContentType)
	if err != nil {
		return nil, fmt.Errorf("update avatar: %w", err)
	}

	updated, err := s.repomanager.Users(s.db).SetAvatarURL(ctx, user.Email, url)
	if err != nil {
		return nil, fmt.Errorf("update avatar: %w", err)
	}

	s.cache(ctx, updated)
	return updated, nil
}

func (s *AuthService) issuePair(email string) (*TokenPair, error) {
	access, err := tokens.IssueFor[tokens.Access](s.codec, email)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := tokens.IssueFor[tokens.Refresh](s.codec, email)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: common.TokenTypeBearer}, nil
}

func (s *AuthService) queueEmail(ctx context.Context, kind mail.Kind, user *models.User, baseURL string) {
	var (
		tok string
		err error
	)
	switch kind {
	case mail.KindConfirmation:
		var t tokens.Token[tokens.EmailConfirm]
		t, err = tokens.IssueFor[tokens.EmailConfirm](s.codec, user.Email)
		tok = t.String()
	case mail.KindPasswordReset:
		var t tokens.Token[tokens.PasswordReset]
		t, err = tokens.IssueFor[tokens.PasswordReset](s.codec, user.Email)
		tok = t.String()
	}
	if err != nil {
		s.logger.Error(ctx, "issue email token failed", "kind", kind.String(), "email", user.Email, "error", err)
		return
	}

	s.mailer.Submit(ctx, kind, mail.Message{
		Email:    user.Email,
		UserName: user.UserName,
		BaseURL:  baseURL,
		Token:    tok,
	})
}

// cached returns the session snapshot for email. Cache errors count as a miss.
func (s *AuthService) cached(ctx context.Context, email string) (*models.User, bool) {
	b, found, err := s.sessions.Get(ctx, email)
	if err != nil {
		s.logger.Warn(ctx, "session cache read failed", "email", email, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var user models.User
	if err := json.Unmarshal(b, &user); err != nil {
		s.logger.Warn(ctx, "session cache entry corrupt", "email", email, "error", err)
		return nil, false
	}
	return &user, true
}

func (s *AuthService) cache(ctx context.Context, user *models.User) {
	b, err := json.Marshal(user)
	if err != nil {
		s.logger.Warn(ctx, "session cache encode failed", "email", user.Email, "error", err)
		return
	}
	if err := s.sessions.Set(ctx, user.Email, b, s.sessionTTL); err != nil {
		s.logger.Warn(ctx, "session cache write failed", "email", user.Email, "error", err)
	}
}

func (s *AuthService) evict(ctx context.Context, email string) {
	if err := s.sessions.Delete(ctx, email); err != nil {
		s.logger.Warn(ctx, "session cache evict failed", "email", email, "error", err)
	}
}
