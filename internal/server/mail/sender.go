// Package mail renders and delivers the account emails: confirmation links
// after signup and password-reset links.
package mail

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message is everything a template needs. BaseURL ends with "/".
type Message struct {
	Email    string
	UserName string
	BaseURL  string
	Token    string
}

// Sender delivers account emails.
type Sender interface {
	SendConfirmation(ctx context.Context, m Message) error
	SendPasswordReset(ctx context.Context, m Message) error
}

func ConfirmationLink(baseURL, token string) string {
	return withSlash(baseURL) + "api/auth/confirmed_email/" + token
}

func ResetLink(baseURL, token string) string {
	return withSlash(baseURL) + "api/auth/reset_password_form/" + token
}

func withSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// Templates holds the parsed email bodies.
type Templates struct {
	confirm *pongo2.Template
	reset   *pongo2.Template
}

func LoadTemplates() (*Templates, error) {
	confirm, err := loadTemplate("templates/confirm_email.html")
	if err != nil {
		return nil, err
	}
	reset, err := loadTemplate("templates/reset_password.html")
	if err != nil {
		return nil, err
	}
	return &Templates{confirm: confirm, reset: reset}, nil
}

func loadTemplate(name string) (*pongo2.Template, error) {
	b, err := templateFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}
	tpl, err := pongo2.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return tpl, nil
}

func (t *Templates) RenderConfirmation(m Message) (string, error) {
	return t.confirm.Execute(pongo2.Context{
		"username": m.UserName,
		"email":    m.Email,
		"link":     ConfirmationLink(m.BaseURL, m.Token),
	})
}

func (t *Templates) RenderPasswordReset(m Message) (string, error) {
	return t.reset.Execute(pongo2.Context{
		"username": m.UserName,
		"email":    m.Email,
		"link":     ResetLink(m.BaseURL, m.Token),
	})
}
