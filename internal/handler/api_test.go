package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dojo-api/internal/identity"
	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/repository"
	"github.com/noah-isme/dojo-api/internal/service"
	"github.com/noah-isme/dojo-api/internal/store"
)

// memCredentials is an in-memory identity.CredentialRepository.
type memCredentials struct {
	mu      sync.Mutex
	byID    map[string]*models.Credential
	refresh map[string]*models.RefreshToken
}

func newMemCredentials() *memCredentials {
	return &memCredentials{byID: map[string]*models.Credential{}, refresh: map[string]*models.RefreshToken{}}
}

func (m *memCredentials) FindByEmail(ctx context.Context, email string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memCredentials) FindByID(ctx context.Context, id string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *memCredentials) Create(ctx context.Context, credential *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		if c.Email == credential.Email {
			return identity.ErrDuplicateIdentity
		}
	}
	cp := *credential
	m.byID[cp.ID] = &cp
	return nil
}

func (m *memCredentials) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.refresh[cp.Token] = &cp
	return nil
}

func (m *memCredentials) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *memCredentials) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.refresh {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &revokedAt
		}
	}
	return nil
}

type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta map[string]interface{} `json:"meta"`
}

type apiHarness struct {
	t      *testing.T
	router *gin.Engine
	store  *store.Memory
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	mem := store.NewMemory()
	idp := identity.NewLocal(newMemCredentials(), identity.LocalConfig{Secret: "test-secret", Issuer: "dojo-api-test"}, nil)

	dojos := repository.NewDojoRepository(mem)
	students := repository.NewStudentRepository(mem)
	links := repository.NewRoleLinkRepository(mem)
	requests := repository.NewJoinRequestRepository(mem)
	exams := repository.NewExamRepository(mem)
	events := repository.NewGraduationRepository(mem)

	resolver := service.NewRoleResolver(service.RoleResolverDeps{
		Links:         links,
		Requests:      requests,
		Students:      students,
		Championships: repository.NewChampionshipRepository(mem),
		Graduations:   events,
		Exams:         exams,
		Dojos:         dojos,
	}, nil, 0, nil, nil)
	auth := service.NewAuthService(idp, resolver, nil, nil)

	master, err := idp.SignUp(ctx, "sensei@dojo.test", "secret", map[string]string{identity.MetadataRole: "master"})
	require.NoError(t, err)
	_, err = mem.Insert(ctx, store.CollectionDojos, store.Row{
		"id": "dojo-1", "name": "Kodokan", "owner_id": master.Principal.ID,
		"modalities": []models.Modality{{Name: "judo", Belts: []models.Belt{{Name: "white"}, {Name: "yellow"}}}},
	})
	require.NoError(t, err)
	_, err = mem.Insert(ctx, store.CollectionStudents, store.Row{"id": "master-student", "dojo_id": "dojo-1", "name": "Sensei", "belt": "black"})
	require.NoError(t, err)
	_, err = mem.Insert(ctx, store.CollectionRoleLinks, store.Row{"id": "master-link", "user_id": master.Principal.ID, "student_id": "master-student", "role": "master"})
	require.NoError(t, err)

	r := gin.New()
	Routes{
		Auth:          NewAuthHandler(auth),
		JoinRequest:   NewJoinRequestHandler(service.NewJoinRequestService(idp, requests, dojos, students, links, resolver, nil, nil, nil)),
		Enrollment:    NewEnrollmentHandler(service.NewEnrollmentService(idp, dojos, students, links, nil, nil, nil, service.EnrollmentConfig{})),
		Graduation:    NewGraduationHandler(service.NewGraduationService(events, students, exams, resolver, 2, nil, nil, nil)),
		Authenticator: auth,
		Resolver:      resolver,
	}.Register(r.Group("/api/v1"))

	return &apiHarness{t: t, router: r, store: mem}
}

func (h *apiHarness) call(method, path, token string, body interface{}) (int, apiEnvelope) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var env apiEnvelope
	if w.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func (h *apiHarness) login(email, password string) string {
	h.t.Helper()
	code, env := h.call(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(h.t, http.StatusOK, code)
	var session models.Session
	require.NoError(h.t, json.Unmarshal(env.Data, &session))
	return session.AccessToken
}

func (h *apiHarness) me(token string) *models.ResolvedIdentity {
	h.t.Helper()
	code, env := h.call(http.MethodGet, "/auth/me", token, nil)
	require.Equal(h.t, http.StatusOK, code)
	var resolved models.ResolvedIdentity
	require.NoError(h.t, json.Unmarshal(env.Data, &resolved))
	return &resolved
}

func TestApplicationApprovalFlow(t *testing.T) {
	h := newAPIHarness(t)

	code, env := h.call(http.MethodPost, "/join-requests", "", map[string]string{
		"dojo_id": "dojo-1", "name": "Ana", "email": "ana@x.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, code)
	var submitted service.SubmitResult
	require.NoError(t, json.Unmarshal(env.Data, &submitted))
	require.NotNil(t, submitted.Session)
	applicant := submitted.Session.AccessToken

	resolved := h.me(applicant)
	assert.Equal(t, models.IdentityPendingApplicant, resolved.Kind)
	assert.Equal(t, "Kodokan", resolved.DojoName)

	master := h.login("sensei@dojo.test", "secret")
	code, env = h.call(http.MethodGet, "/dojos/dojo-1/join-requests", master, nil)
	require.Equal(t, http.StatusOK, code)
	var pending []models.JoinRequest
	require.NoError(t, json.Unmarshal(env.Data, &pending))
	require.Len(t, pending, 1)

	code, _ = h.call(http.MethodGet, "/dojos/dojo-1/join-requests", applicant, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = h.call(http.MethodPost, "/dojos/dojo-1/join-requests/"+pending[0].ID+"/approve", master, nil)
	require.Equal(t, http.StatusOK, code)

	resolved = h.me(applicant)
	assert.Equal(t, models.IdentityStudent, resolved.Kind)
	require.NotNil(t, resolved.Profile)
	assert.Equal(t, "white", resolved.Profile.Belt)

	code, env = h.call(http.MethodPost, "/dojos/dojo-1/join-requests/"+pending[0].ID+"/approve", master, nil)
	assert.Equal(t, http.StatusPreconditionFailed, code)
	assert.Equal(t, "PRECONDITION_FAILED", env.Error.Code)
}

func TestEnrollmentAndGraduationFlow(t *testing.T) {
	h := newAPIHarness(t)
	master := h.login("sensei@dojo.test", "secret")

	code, env := h.call(http.MethodPost, "/dojos/dojo-1/students", master, map[string]interface{}{
		"name": "Rui", "email": "rui@x.com", "tuition_fee": 120,
	})
	require.Equal(t, http.StatusCreated, code)
	var enrolled service.EnrollmentResult
	require.NoError(t, json.Unmarshal(env.Data, &enrolled))
	assert.Equal(t, "judo", enrolled.Student.Modality)

	code, env = h.call(http.MethodPost, "/dojos/dojo-1/students", master, map[string]interface{}{
		"name": "Rui again", "email": "rui@x.com",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "DUPLICATE_IDENTITY", env.Error.Code)

	_, err := h.store.Insert(context.Background(), store.CollectionExams, store.Row{
		"id": "exam-1", "dojo_id": "dojo-1", "name": "Yellow", "modality": "judo", "target_belt": "yellow", "min_passing_grade": 7.0,
	})
	require.NoError(t, err)

	code, env = h.call(http.MethodPost, "/dojos/dojo-1/graduations", master, map[string]interface{}{
		"exam_id": "exam-1", "date": "2024-06-15", "student_ids": []string{enrolled.Student.ID},
	})
	require.Equal(t, http.StatusCreated, code)
	var events []models.GraduationEvent
	require.NoError(t, json.Unmarshal(env.Data, &events))
	require.Len(t, events, 1)

	student := h.login("rui@x.com", "123456")
	upcoming := h.me(student)
	require.NotNil(t, upcoming.UpcomingGraduation)
	assert.Equal(t, events[0].ID, upcoming.UpcomingGraduation.ID)

	code, env = h.call(http.MethodPost, "/dojos/dojo-1/graduations/finalize", master, map[string]interface{}{
		"exam_id": "exam-1", "date": "2024-06-15", "grades": map[string]float64{events[0].ID: 8.5},
	})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, env.Meta["approved"])

	promoted := h.me(student)
	assert.Equal(t, "yellow", promoted.Profile.Belt)
	assert.Nil(t, promoted.UpcomingGraduation)
}

func TestMasterRoutesRequireAuthAndScope(t *testing.T) {
	h := newAPIHarness(t)

	code, env := h.call(http.MethodGet, "/dojos/dojo-1/join-requests", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	master := h.login("sensei@dojo.test", "secret")
	code, _ = h.call(http.MethodGet, "/dojos/dojo-2/join-requests", master, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = h.call(http.MethodPost, "/auth/login", "", map[string]string{"email": "sensei@dojo.test", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)

	code, _ = h.call(http.MethodPost, "/auth/logout", master, nil)
	assert.Equal(t, http.StatusNoContent, code)
}
