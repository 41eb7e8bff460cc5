package services

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/identity"
	"github.com/qrsafety/backend/internal/models"
	"github.com/qrsafety/backend/internal/remote"
	"github.com/qrsafety/backend/internal/syncer"
)

type certificateService struct {
	sync   Loader
	store  DocumentStore
	desc   Descriptors
	logger *zap.Logger
	now    func() time.Time
	serial func() int
}

// NewCertificateService creates a new certificate service
func NewCertificateService(sync Loader, store DocumentStore, desc Descriptors, logger *zap.Logger) *certificateService {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &certificateService{
		sync:   sync,
		store:  store,
		desc:   desc,
		logger: logger,
		now:    time.Now,
		serial: func() int { return rng.Intn(10000) },
	}
}

// Issue creates a certificate for a completed enrollment. Issuing twice for
// the same course returns the existing certificate with Success=false.
// Guests cannot hold certificates; they migrate their enrollment first.
func (s *certificateService) Issue(ctx context.Context, actor identity.Actor, input models.IssueCertificateInput) (models.IssueCertificateResult, error) {
	if actor.Guest {
		return models.IssueCertificateResult{}, fmt.Errorf("certificates require a registered account")
	}
	if input.CourseID == "" {
		return models.IssueCertificateResult{}, fmt.Errorf("course id is required")
	}
	input.UserID = actor.UserID

	// A certificate attests a completed enrollment
	enrollmentDoc, err := s.store.FetchOne(ctx, remote.CollectionEnrollments, models.EnrollmentKey(actor.UserID, input.CourseID))
	if err != nil {
		if remote.IsNotFound(err) {
			return models.IssueCertificateResult{Success: false, Message: "수강 내역이 없습니다"}, nil
		}
		return models.IssueCertificateResult{}, fmt.Errorf("failed to check enrollment: %w", err)
	}
	enrollment := remote.EnrollmentFromDocument(enrollmentDoc)
	if !enrollment.Completed() {
		return models.IssueCertificateResult{Success: false, Message: "아직 수료하지 않은 강의입니다"}, nil
	}

	if existing, err := s.findForCourse(ctx, actor.UserID, input.CourseID); err != nil {
		return models.IssueCertificateResult{}, err
	} else if existing != nil {
		return models.IssueCertificateResult{
			Success:     false,
			Message:     "이미 발급된 수료증이 있습니다",
			Certificate: existing,
		}, nil
	}

	now := s.now()
	completedAt := now
	if enrollment.CompletedAt != nil {
		completedAt = *enrollment.CompletedAt
	}

	courseCategory := ""
	if courseDoc, err := s.store.FetchOne(ctx, remote.CollectionCourses, input.CourseID); err == nil {
		course := remote.CourseFromDocument(courseDoc)
		courseCategory = course.Category.CategoryLabel()
		if input.CourseName == "" {
			input.CourseName = course.Title
		}
	}

	cert := models.Certificate{
		ID:                fmt.Sprintf("%s_%s_%d", actor.UserID, input.CourseID, now.UnixMilli()),
		CertificateNumber: fmt.Sprintf("CERT-%s-%04d", now.Format("20060102"), s.serial()),
		UserID:            actor.UserID,
		UserName:          input.UserName,
		CourseID:          input.CourseID,
		CourseName:        input.CourseName,
		CourseCategory:    courseCategory,
		VerificationToken: uuid.NewString(),
		IsValid:           true,
		CompletedAt:       completedAt,
		IssuedAt:          now,
	}

	_, err = s.sync.Mutate(ctx, s.desc.Certificates, keyCertificates(actor.UserID),
		func(ctx context.Context) (any, error) {
			if err := s.store.Write(ctx, remote.CollectionCertificates, cert.ID, remote.CertificateToDocument(cert)); err != nil {
				return nil, fmt.Errorf("failed to save certificate: %w", err)
			}
			return nil, nil
		},
		keyDashboard(actor.UserID),
	)
	if err != nil {
		s.logger.Error("failed to issue certificate",
			zap.String("userId", actor.UserID),
			zap.String("courseId", input.CourseID),
			zap.Error(err),
		)
		return models.IssueCertificateResult{}, err
	}

	s.logger.Info("certificate issued",
		zap.String("userId", actor.UserID),
		zap.String("courseId", input.CourseID),
		zap.String("certificateNumber", cert.CertificateNumber),
	)
	return models.IssueCertificateResult{Success: true, Certificate: &cert}, nil
}

// GetByID returns one certificate.
func (s *certificateService) GetByID(ctx context.Context, certificateID string) (*models.Certificate, error) {
	doc, err := s.store.FetchOne(ctx, remote.CollectionCertificates, certificateID)
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}
	cert := remote.CertificateFromDocument(doc)
	return &cert, nil
}

// ListForUser returns the actor's certificates, newest first, through the
// tiered pipeline. A denied listing degrades to an empty list with the flag
// set instead of caching the empty list as fresh.
func (s *certificateService) ListForUser(ctx context.Context, actor identity.Actor, forceRefresh bool) ([]models.Certificate, models.ReadStatus, error) {
	if actor.Guest {
		return []models.Certificate{}, models.ReadStatus{}, nil
	}

	result, err := s.sync.Load(ctx, s.desc.Certificates, keyCertificates(actor.UserID), func(ctx context.Context) (any, error) {
		page, err := s.store.FetchMany(ctx, remote.CollectionCertificates, remote.Query{
			Filters:  map[string]string{"userId": actor.UserID},
			OrderBy:  "issuedAt",
			Desc:     true,
			PageSize: 500,
		})
		if err != nil {
			return nil, err
		}

		certs := make([]models.Certificate, 0, len(page.Items))
		for _, doc := range page.Items {
			certs = append(certs, remote.CertificateFromDocument(doc))
		}
		return &certs, nil
	}, syncer.LoadOptions{ForceRefresh: forceRefresh})
	if err != nil {
		if remote.IsPermissionDenied(err) {
			s.logger.Warn("certificate listing denied, serving empty list",
				zap.String("userId", actor.UserID),
				zap.Error(err),
			)
			return []models.Certificate{}, models.ReadStatus{Degraded: true}, nil
		}
		s.logger.Error("failed to list certificates", zap.String("userId", actor.UserID), zap.Error(err))
		return nil, models.ReadStatus{}, err
	}
	return *result.Value.(*[]models.Certificate), readStatus(result), nil
}

// Verify checks a verification token, e.g. from a scanned QR code, and logs
// the check on the certificate. The log write is best effort.
func (s *certificateService) Verify(ctx context.Context, token string) (models.VerifyCertificateResult, error) {
	if token == "" {
		return models.VerifyCertificateResult{Success: false, Message: "검증 토큰이 필요합니다"}, nil
	}

	page, err := s.store.FetchMany(ctx, remote.CollectionCertificates, remote.Query{
		Filters:  map[string]string{"verificationToken": token},
		PageSize: 1,
	})
	if err != nil {
		s.logger.Error("failed to verify certificate", zap.Error(err))
		return models.VerifyCertificateResult{}, fmt.Errorf("failed to verify certificate: %w", err)
	}
	if len(page.Items) == 0 {
		return models.VerifyCertificateResult{Success: true, Valid: false, Message: "유효하지 않은 수료증입니다"}, nil
	}

	cert := remote.CertificateFromDocument(page.Items[0])

	if err := s.store.AppendSub(ctx, remote.CollectionCertificates, cert.ID, remote.SubVerifications, remote.Document{
		"verifiedAt": s.now().Format(time.RFC3339),
	}); err != nil {
		s.logger.Warn("failed to log certificate verification",
			zap.String("certificateId", cert.ID),
			zap.Error(err),
		)
	}

	if !cert.IsValid {
		return models.VerifyCertificateResult{
			Success:     true,
			Valid:       false,
			Message:     "취소된 수료증입니다",
			Certificate: &cert,
		}, nil
	}
	return models.VerifyCertificateResult{Success: true, Valid: true, Certificate: &cert}, nil
}

// Revoke invalidates a certificate. Revocation is the only mutation a
// certificate allows.
func (s *certificateService) Revoke(ctx context.Context, actor identity.Actor, certificateID string) error {
	cert, err := s.GetByID(ctx, certificateID)
	if err != nil {
		return err
	}
	if cert == nil {
		return fmt.Errorf("certificate not found: %s", certificateID)
	}
	if cert.UserID != actor.UserID {
		return fmt.Errorf("certificate %s does not belong to the actor", certificateID)
	}

	_, err = s.sync.Mutate(ctx, s.desc.Certificates, keyCertificates(cert.UserID),
		func(ctx context.Context) (any, error) {
			if err := s.store.Write(ctx, remote.CollectionCertificates, certificateID, remote.Document{"isValid": false}); err != nil {
				return nil, fmt.Errorf("failed to revoke certificate: %w", err)
			}
			return nil, nil
		},
		keyDashboard(cert.UserID),
	)
	return err
}

// Stats summarizes the actor's certificates by course category.
func (s *certificateService) Stats(ctx context.Context, actor identity.Actor) (models.CertificateStats, error) {
	certs, _, err := s.ListForUser(ctx, actor, false)
	if err != nil {
		return models.CertificateStats{}, err
	}

	stats := models.CertificateStats{
		Total:      len(certs),
		ByCategory: make(map[string]int),
	}
	for _, cert := range certs {
		category := cert.CourseCategory
		if category == "" {
			category = "미분류"
		}
		stats.ByCategory[category]++
	}
	if len(certs) > 5 {
		stats.Recent = certs[:5]
	} else {
		stats.Recent = certs
	}
	return stats, nil
}

// findForCourse returns the actor's existing certificate for a course.
func (s *certificateService) findForCourse(ctx context.Context, userID, courseID string) (*models.Certificate, error) {
	page, err := s.store.FetchMany(ctx, remote.CollectionCertificates, remote.Query{
		Filters:  map[string]string{"userId": userID, "courseId": courseID},
		PageSize: 1,
	})
	if err != nil {
		if remote.IsPermissionDenied(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check existing certificate: %w", err)
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	cert := remote.CertificateFromDocument(page.Items[0])
	return &cert, nil
}
