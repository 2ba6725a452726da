package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dojo-api/internal/identity"
	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/repository"
	"github.com/noah-isme/dojo-api/internal/store"
)

const (
	testDojoID       = "dojo-1"
	testMasterUserID = "master-user"
	testMasterEmail  = "sensei@dojo.test"
)

// fakeIdentity is an in-memory identity provider. Tokens are "tok-<id>".
type fakeIdentity struct {
	mu        sync.Mutex
	seq       int
	byEmail   map[string]*models.Principal
	passwords map[string]string
	tokens    map[string]*models.Principal

	signUpErr error
	signUps   int
	// revokeOnSignUp invalidates every existing token when a credential is
	// created, the way an ambient-session client would.
	revokeOnSignUp bool
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		byEmail:   map[string]*models.Principal{},
		passwords: map[string]string{},
		tokens:    map[string]*models.Principal{},
	}
}

func (f *fakeIdentity) addUser(id, email, roleHint, password string) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &models.Principal{ID: id, Email: email, RoleHint: roleHint}
	f.byEmail[email] = p
	f.passwords[email] = password
	token := "tok-" + id
	f.tokens[token] = p
	return &models.Session{AccessToken: token, RefreshToken: "refresh-" + id, ExpiresAt: time.Now().Add(time.Hour)}
}

func (f *fakeIdentity) principal(email string) *models.Principal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byEmail[email]
}

func (f *fakeIdentity) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*identity.SignUpResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signUps++
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	if _, exists := f.byEmail[email]; exists {
		return nil, identity.ErrDuplicateIdentity
	}
	if f.revokeOnSignUp {
		f.tokens = map[string]*models.Principal{}
	}
	f.seq++
	p := &models.Principal{ID: fmt.Sprintf("user-%d", f.seq), Email: email, RoleHint: metadata[identity.MetadataRole], Name: metadata[identity.MetadataName]}
	f.byEmail[email] = p
	f.passwords[email] = password
	token := "tok-" + p.ID
	f.tokens[token] = p
	return &identity.SignUpResult{Principal: p, Session: &models.Session{AccessToken: token}}, nil
}

func (f *fakeIdentity) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byEmail[email]
	if !ok || f.passwords[email] != password {
		return nil, identity.ErrInvalidCredentials
	}
	token := "tok-" + p.ID
	f.tokens[token] = p
	return &models.Session{AccessToken: token, RefreshToken: "refresh-" + p.ID}, nil
}

func (f *fakeIdentity) SignOut(ctx context.Context, session *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, session.AccessToken)
	return nil
}

func (f *fakeIdentity) GetUser(ctx context.Context, accessToken string) (*models.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.tokens[accessToken]
	if !ok {
		return nil, identity.ErrInvalidToken
	}
	return p, nil
}

func (f *fakeIdentity) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := strings.TrimPrefix(refreshToken, "refresh-")
	for _, p := range f.byEmail {
		if p.ID == id && id != refreshToken {
			token := "tok-" + p.ID
			f.tokens[token] = p
			return &models.Session{AccessToken: token, RefreshToken: refreshToken}, nil
		}
	}
	return nil, identity.ErrInvalidToken
}

type harness struct {
	t           *testing.T
	store       *store.Memory
	idp         *fakeIdentity
	resolver    *RoleResolver
	enrollment  *EnrollmentService
	joins       *JoinRequestService
	graduations *GraduationService
	auth        *AuthService
	master      *models.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	idp := newFakeIdentity()

	dojos := repository.NewDojoRepository(mem)
	students := repository.NewStudentRepository(mem)
	links := repository.NewRoleLinkRepository(mem)
	requests := repository.NewJoinRequestRepository(mem)
	exams := repository.NewExamRepository(mem)
	events := repository.NewGraduationRepository(mem)
	championships := repository.NewChampionshipRepository(mem)

	resolver := NewRoleResolver(RoleResolverDeps{
		Links:         links,
		Requests:      requests,
		Students:      students,
		Championships: championships,
		Graduations:   events,
		Exams:         exams,
		Dojos:         dojos,
	}, nil, 0, nil, nil)

	joins := NewJoinRequestService(idp, requests, dojos, students, links, resolver, nil, nil, nil)
	joins.now = func() time.Time { return time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC) }

	h := &harness{
		t:           t,
		store:       mem,
		idp:         idp,
		resolver:    resolver,
		enrollment:  NewEnrollmentService(idp, dojos, students, links, nil, nil, nil, EnrollmentConfig{}),
		joins:       joins,
		graduations: NewGraduationService(events, students, exams, resolver, 4, nil, nil, nil),
		auth:        NewAuthService(idp, resolver, nil, nil),
	}

	h.insert(store.CollectionDojos, store.Row{
		"id":       testDojoID,
		"name":     "Kodokan",
		"owner_id": testMasterUserID,
		"modalities": []models.Modality{{
			Name:  "judo",
			Belts: []models.Belt{{Name: "white"}, {Name: "yellow"}, {Name: "orange"}},
		}},
	})
	h.insert(store.CollectionStudents, store.Row{"id": "master-student", "dojo_id": testDojoID, "name": "Sensei", "email": testMasterEmail, "belt": "black", "modality": "judo"})
	h.insert(store.CollectionRoleLinks, store.Row{"id": "master-link", "user_id": testMasterUserID, "student_id": "master-student", "role": "master"})
	h.master = idp.addUser(testMasterUserID, testMasterEmail, "master", "secret")
	return h
}

func (h *harness) insert(collection string, rows ...store.Row) {
	h.t.Helper()
	_, err := h.store.Insert(context.Background(), collection, rows...)
	require.NoError(h.t, err)
}

// masterCtx carries the master's session and principal like the auth
// middleware does.
func (h *harness) masterCtx() context.Context {
	principal, err := h.idp.GetUser(context.Background(), h.master.AccessToken)
	require.NoError(h.t, err)
	ctx := identity.WithSession(context.Background(), h.master)
	return identity.WithPrincipal(ctx, principal)
}

func (h *harness) count(collection string, filters ...store.Filter) int {
	return h.store.Count(collection, filters...)
}

func (h *harness) student(id string) *models.Student {
	h.t.Helper()
	rows, err := h.store.Select(context.Background(), store.Query{Collection: store.CollectionStudents, Filters: []store.Filter{store.Eq("id", id)}})
	require.NoError(h.t, err)
	require.Len(h.t, rows, 1)
	var s models.Student
	require.NoError(h.t, store.Decode(rows[0], &s))
	return &s
}

// mark returns the current journal position.
func (h *harness) mark() int {
	return len(h.store.Journal())
}

// writesSince lists the successful writes recorded after mark.
func (h *harness) writesSince(mark int) []string {
	return h.store.Journal()[mark:]
}
