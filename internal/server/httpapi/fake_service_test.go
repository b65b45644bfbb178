package httpapi

import (
	"context"
	"io"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
)

// fakeService answers from canned values; calls records what the handlers
// passed in.
type fakeService struct {
	user *models.User
	pair *services.TokenPair
	err  error

	confirm services.ConfirmResult
	request services.RequestResult
	reset   services.ResetResult

	gotBaseURL  string
	gotEmail    string
	gotPassword string
	gotToken    string
	gotSignup   services.SignupInput
	gotImage    string
	loggedOut   string
}

func (f *fakeService) Signup(_ context.Context, in services.SignupInput, baseURL string) (*models.User, error) {
	f.gotSignup, f.gotBaseURL = in, baseURL
	if f.err != nil {
		return nil, f.err
	}
	return &models.User{ID: "1", Email: in.Email, UserName: in.UserName}, nil
}

func (f *fakeService) Login(_ context.Context, email, password string) (*services.TokenPair, error) {
	f.gotEmail, f.gotPassword = email, password
	return f.pair, f.err
}

func (f *fakeService) Refresh(_ context.Context, t tokens.Token[tokens.Refresh]) (*services.TokenPair, error) {
	f.gotToken = t.String()
	return f.pair, f.err
}

func (f *fakeService) Logout(_ context.Context, email string) error {
	f.loggedOut = email
	return f.err
}

func (f *fakeService) ConfirmEmail(_ context.Context, t tokens.Token[tokens.EmailConfirm]) (services.ConfirmResult, error) {
	f.gotToken = t.String()
	return f.confirm, f.err
}

func (f *fakeService) RequestEmailConfirmation(_ context.Context, email, baseURL string) (services.RequestResult, error) {
	f.gotEmail, f.gotBaseURL = email, baseURL
	return f.request, f.err
}

func (f *fakeService) RequestPasswordReset(_ context.Context, email, baseURL string) (services.ResetResult, error) {
	f.gotEmail, f.gotBaseURL = email, baseURL
	return f.reset, f.err
}

func (f *fakeService) ResetPassword(_ context.Context, t tokens.Token[tokens.PasswordReset], newPassword, confirmPassword string) error {
	f.gotToken, f.gotPassword = t.String(), newPassword
	if newPassword != confirmPassword {
		return common.ErrPasswordMismatch
	}
	return f.err
}

func (f *fakeService) Authenticate(_ context.Context, t tokens.Token[tokens.Access]) (*models.User, error) {
	if t.String() != "good-access" {
		return nil, common.ErrInvalidSignature
	}
	return f.user, nil
}

func (f *fakeService) UpdateAvatar(_ context.Context, user *models.User, image io.Reader) (*models.User, error) {
	b, _ := io.ReadAll(image)
	f.gotImage = string(b)
	if f.err != nil {
		return nil, f.err
	}
	u := *user
	u.AvatarURL = "http://img/avatars/" + user.Email
	return &u, nil
}
