package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/dojo-api/internal/models"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
)

const identityCachePrefix = "identity:"

type roleLinkReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.RoleLink, error)
}

type openRequestReader interface {
	LatestOpenByUser(ctx context.Context, userID string) (*models.JoinRequest, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type championshipReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.ChampionshipParticipation, error)
}

type scheduledGraduationReader interface {
	NextScheduledForStudent(ctx context.Context, studentID string) (*models.GraduationEvent, error)
}

type examReader interface {
	FindByID(ctx context.Context, id string) (*models.Exam, error)
}

type dojoOwnerReader interface {
	FindByOwner(ctx context.Context, ownerID string) (*models.Dojo, error)
}

// RoleResolverDeps groups the readers used during resolution.
type RoleResolverDeps struct {
	Links         roleLinkReader
	Requests      openRequestReader
	Students      studentReader
	Championships championshipReader
	Graduations   scheduledGraduationReader
	Exams         examReader
	Dojos         dojoOwnerReader
}

// resolveStrategy returns matched=false to hand over to the next strategy.
type resolveStrategy func(ctx context.Context, principal *models.Principal) (identity *models.ResolvedIdentity, matched bool, err error)

// RoleResolver classifies a principal into its operating role.
type RoleResolver struct {
	deps       RoleResolverDeps
	cache      *CacheService
	cacheTTL   time.Duration
	metrics    *MetricsService
	logger     *zap.Logger
	strategies []resolveStrategy
}

// NewRoleResolver constructs the resolver. cache and metrics may be nil.
func NewRoleResolver(deps RoleResolverDeps, cache *CacheService, cacheTTL time.Duration, metrics *MetricsService, logger *zap.Logger) *RoleResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &RoleResolver{deps: deps, cache: cache, cacheTTL: cacheTTL, metrics: metrics, logger: logger}
	r.strategies = []resolveStrategy{r.linkStrategy, r.requestStrategy, r.hintStrategy}
	return r
}

// Resolve returns the first strategy match for principal. Lookups are read
// only and are never retried.
func (r *RoleResolver) Resolve(ctx context.Context, principal *models.Principal) (*models.ResolvedIdentity, error) {
	if principal == nil || principal.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "no authenticated principal")
	}

	key := identityCachePrefix + principal.ID
	var cached models.ResolvedIdentity
	if hit, _ := r.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	for _, strategy := range r.strategies {
		resolved, matched, err := strategy(ctx, principal)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		r.metrics.RecordResolution(resolved.Kind)
		_ = r.cache.Set(ctx, key, resolved, r.cacheTTL)
		return resolved, nil
	}
	// hintStrategy always matches or fails; reaching here means the list
	// was emptied.
	return nil, appErrors.Clone(appErrors.ErrProfileUnresolved, fmt.Sprintf("no role could be resolved for %s", principal.ID))
}

// Forget drops cached resolutions for the given principals.
func (r *RoleResolver) Forget(ctx context.Context, userIDs ...string) {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			keys = append(keys, identityCachePrefix+id)
		}
	}
	if len(keys) > 0 {
		_ = r.cache.Forget(ctx, keys...)
	}
}

// ForgetAll drops every cached resolution.
func (r *RoleResolver) ForgetAll(ctx context.Context) {
	_ = r.cache.Invalidate(ctx, identityCachePrefix+"*")
}

func (r *RoleResolver) linkStrategy(ctx context.Context, principal *models.Principal) (*models.ResolvedIdentity, bool, error) {
	link, err := r.deps.Links.FindByUserID(ctx, principal.ID)
	if err != nil || link == nil {
		return nil, false, err
	}

	student, err := r.deps.Students.FindByID(ctx, link.StudentID)
	if err != nil {
		return nil, false, err
	}
	resolved := &models.ResolvedIdentity{UserID: principal.ID, StudentID: student.ID, DojoID: student.DojoID}

	switch link.Role {
	case models.RoleMaster:
		resolved.Kind = models.IdentityMaster
	case models.RoleSysAdmin:
		resolved.Kind = models.IdentitySysAdmin
	case models.RoleStudent:
		resolved.Kind = models.IdentityStudent
		if err := r.loadStudentView(ctx, resolved, student); err != nil {
			return nil, false, err
		}
	default:
		return nil, false, appErrors.Clone(appErrors.ErrProfileUnresolved,
			fmt.Sprintf("role link %s carries unknown role %q", link.ID, link.Role))
	}
	return resolved, true, nil
}

func (r *RoleResolver) loadStudentView(ctx context.Context, resolved *models.ResolvedIdentity, student *models.Student) error {
	championships, err := r.deps.Championships.ListByStudent(ctx, student.ID)
	if err != nil {
		return err
	}
	student.Championships = championships
	resolved.Profile = student

	event, err := r.deps.Graduations.NextScheduledForStudent(ctx, student.ID)
	if err != nil || event == nil {
		return err
	}
	exam, err := r.deps.Exams.FindByID(ctx, event.ExamID)
	if err != nil {
		return err
	}
	resolved.UpcomingGraduation = event
	resolved.UpcomingExam = exam
	return nil
}

func (r *RoleResolver) requestStrategy(ctx context.Context, principal *models.Principal) (*models.ResolvedIdentity, bool, error) {
	req, err := r.deps.Requests.LatestOpenByUser(ctx, principal.ID)
	if err != nil || req == nil {
		return nil, false, err
	}
	kind := models.IdentityPendingApplicant
	if req.Status == models.JoinRequestRejected {
		kind = models.IdentityRejectedApplicant
	}
	return &models.ResolvedIdentity{
		Kind:     kind,
		UserID:   principal.ID,
		DojoID:   req.DojoID,
		Request:  req,
		DojoName: req.DojoName,
	}, true, nil
}

func (r *RoleResolver) hintStrategy(ctx context.Context, principal *models.Principal) (*models.ResolvedIdentity, bool, error) {
	switch models.Role(principal.RoleHint) {
	case models.RoleMaster:
		resolved := &models.ResolvedIdentity{Kind: models.IdentityDegradedMaster, UserID: principal.ID}
		dojo, err := r.deps.Dojos.FindByOwner(ctx, principal.ID)
		if err != nil {
			return nil, false, err
		}
		if dojo != nil {
			resolved.DojoID = dojo.ID
			resolved.DojoName = dojo.Name
		}
		r.logger.Warn("master resolved without role link",
			zap.String("user_id", principal.ID), zap.String("email", principal.Email), zap.String("dojo_id", resolved.DojoID))
		return resolved, true, nil
	case models.RoleStudent:
		return nil, false, appErrors.Clone(appErrors.ErrOrphanedAccount,
			fmt.Sprintf("account %s signed up as a student but has no join request; its dojo cannot be recovered", principal.Email))
	}
	return nil, false, appErrors.Clone(appErrors.ErrProfileUnresolved,
		fmt.Sprintf("account %s has no role link, join request or usable role hint", principal.Email))
}
