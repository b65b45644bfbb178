package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/mail"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/passwords"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/authkeeper/internal/server/sessions"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory users.Repository keyed by email.
type memRepo struct {
	mu        sync.Mutex
	byEmail   map[string]*models.User
	nextID    int
	lookups   int
	forUpdate int
	failWith  error
	createErr error

	failSetHash   error
	beforeConfirm func()
}

func newMemRepo() *memRepo {
	return &memRepo{byEmail: map[string]*models.User{}}
}

func clone(u *models.User) *models.User {
	c := *u
	if u.RefreshToken != nil {
		t := *u.RefreshToken
		c.RefreshToken = &t
	}
	return &c
}

func (r *memRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	if _, ok := r.byEmail[u.Email]; ok {
		return nil, common.ErrAlreadyExists
	}
	r.nextID++
	c := clone(u)
	c.ID = strconv.Itoa(r.nextID)
	c.CreatedAt = time.Unix(1700000000, 0).UTC()
	r.byEmail[u.Email] = c
	return clone(c), nil
}

func (r *memRepo) get(email string) (*models.User, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	u, ok := r.byEmail[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(u), nil
}

func (r *memRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	return r.get(email)
}

func (r *memRepo) GetByEmailForUpdate(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forUpdate++
	return r.get(email)
}

func (r *memRepo) byID(id string) *models.User {
	for _, u := range r.byEmail {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (r *memRepo) SetRefreshToken(_ context.Context, userID string, token *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.byID(userID)
	if u == nil {
		return common.ErrorNotFound
	}
	if token == nil {
		u.RefreshToken = nil
	} else {
		t := *token
		u.RefreshToken = &t
	}
	return nil
}

func (r *memRepo) SetConfirmed(_ context.Context, email string) (bool, error) {
	if r.beforeConfirm != nil {
		r.beforeConfirm()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return false, r.failWith
	}
	u, ok := r.byEmail[email]
	if !ok || u.Confirmed {
		return false, nil
	}
	u.Confirmed = true
	return true, nil
}

func (r *memRepo) SetPasswordHash(_ context.Context, userID string, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSetHash != nil {
		return r.failSetHash
	}
	u := r.byID(userID)
	if u == nil {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *memRepo) SetAvatarURL(_ context.Context, email string, url string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byEmail[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	u.AvatarURL = url
	return clone(u), nil
}

// stored returns the current row for email, or nil.
func (r *memRepo) stored(email string) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byEmail[email]
	if !ok {
		return nil
	}
	return clone(u)
}

type memManager struct {
	repo *memRepo
}

func (m *memManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memManager) Users(dbx.DBTX) users.Repository             { return m.repo }

type sentMail struct {
	kind mail.Kind
	msg  mail.Message
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []sentMail
	reject bool
}

func (f *fakeMailer) Submit(_ context.Context, kind mail.Kind, m mail.Message) bool {
	if f.reject {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind: kind, msg: m})
	return true
}

func (f *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no email queued")
	return f.sent[len(f.sent)-1]
}

type fakeImages struct {
	key         string
	body        string
	contentType string
	err         error
}

func (f *fakeImages) Upload(_ context.Context, body io.Reader, ownerKey, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	b, _ := io.ReadAll(body)
	f.key, f.body, f.contentType = ownerKey, string(b), contentType
	return "http://img/" + ownerKey + "?v=1", nil
}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	svc    *AuthService
	repo   *memRepo
	mock   sqlmock.Sqlmock
	mailer *fakeMailer
	images *fakeImages
	cache  *sessions.MemoryStore
	codec  *tokens.Codec
	clock  *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := &harness{
		repo:   newMemRepo(),
		mock:   mock,
		mailer: &fakeMailer{},
		images: &fakeImages{},
		cache:  sessions.NewMemoryStore(),
		codec:  tokens.NewCodec([]byte("test-secret"), tokens.WithClock(clock.Now)),
		clock:  clock,
	}
	h.svc = NewAuthService(db, &memManager{repo: h.repo}, Dependencies{
		Codec:      h.codec,
		Hasher:     passwords.NewPool(passwords.NewBcryptHasher(4), 2),
		Sessions:   h.cache,
		Mailer:     h.mailer,
		Images:     h.images,
		SessionTTL: 300 * time.Second,
		Logger:     logging.Nop{},
	})
	return h
}

func (h *harness) expectTx(commit bool) {
	h.mock.ExpectBegin()
	if commit {
		h.mock.ExpectCommit()
	} else {
		h.mock.ExpectRollback()
	}
}

// confirmedUser signs up and confirms an account, returning its email.
func (h *harness) confirmedUser(t *testing.T, email, password string) {
	t.Helper()
	ctx := context.Background()

	_, err := h.svc.Signup(ctx, SignupInput{UserName: "alice", Email: email, Password: password}, "http://h/")
	require.NoError(t, err)

	res, err := h.svc.ConfirmEmail(ctx, tokens.Token[tokens.EmailConfirm](h.mailer.last(t).msg.Token))
	require.NoError(t, err)
	require.Equal(t, ConfirmDone, res)
}

var errDB = errors.New("connection reset")
