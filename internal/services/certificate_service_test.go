package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/models"
	"github.com/qrsafety/backend/internal/remote"
)

func setupCertificateService() (*certificateService, *passthroughLoader, *fakeDocStore) {
	loader := &passthroughLoader{}
	store := newFakeDocStore()
	svc := NewCertificateService(loader, store, testDescriptors(), zap.NewNop())
	svc.serial = func() int { return 7 }
	return svc, loader, store
}

func seedCompletedEnrollment(store *fakeDocStore, userID, courseID string) {
	store.seed(remote.CollectionEnrollments, models.EnrollmentKey(userID, courseID), remote.Document{
		"userId": userID, "courseId": courseID, "status": "completed", "progress": float64(100),
		"completedAt": "2026-04-10T10:00:00Z",
	})
}

func TestCertificateService_Issue(t *testing.T) {
	svc, loader, store := setupCertificateService()
	seedCompletedEnrollment(store, "u1", "c1")
	seedCourse(store, "c1", "크레인 작업 안전", "기계", "건설기계", "크레인")

	result, err := svc.Issue(context.Background(), userActor, models.IssueCertificateInput{
		UserName: "홍길동",
		CourseID: "c1",
	})

	require.NoError(t, err)
	require.True(t, result.Success)
	cert := result.Certificate
	require.NotNil(t, cert)
	assert.Regexp(t, `^u1_c1_\d+$`, cert.ID)
	assert.Regexp(t, `^CERT-\d{8}-0007$`, cert.CertificateNumber)
	assert.Equal(t, "크레인 작업 안전", cert.CourseName, "the course title fills in when omitted")
	assert.Equal(t, "기계 > 건설기계 > 크레인", cert.CourseCategory)
	assert.NotEmpty(t, cert.VerificationToken)
	assert.True(t, cert.IsValid)
	assert.Equal(t, 2026, cert.CompletedAt.Year())

	assert.True(t, loader.didInvalidate(keyDashboard("u1")))
}

func TestCertificateService_IssueRequiresCompletion(t *testing.T) {
	svc, _, store := setupCertificateService()
	store.seed(remote.CollectionEnrollments, "u1_c1", remote.Document{
		"userId": "u1", "courseId": "c1", "status": "enrolled", "progress": float64(60),
	})

	result, err := svc.Issue(context.Background(), userActor, models.IssueCertificateInput{CourseID: "c1"})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Nil(t, result.Certificate)
}

func TestCertificateService_IssueWithoutEnrollment(t *testing.T) {
	svc, _, _ := setupCertificateService()

	result, err := svc.Issue(context.Background(), userActor, models.IssueCertificateInput{CourseID: "c1"})

	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestCertificateService_IssueTwiceReturnsExisting(t *testing.T) {
	svc, _, store := setupCertificateService()
	seedCompletedEnrollment(store, "u1", "c1")
	seedCourse(store, "c1", "크레인 작업 안전", "기계", "건설기계", "크레인")

	first, err := svc.Issue(context.Background(), userActor, models.IssueCertificateInput{CourseID: "c1"})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := svc.Issue(context.Background(), userActor, models.IssueCertificateInput{CourseID: "c1"})
	require.NoError(t, err)
	assert.False(t, second.Success)
	require.NotNil(t, second.Certificate)
	assert.Equal(t, first.Certificate.ID, second.Certificate.ID)
}

func TestCertificateService_IssueRejectsGuests(t *testing.T) {
	svc, _, _ := setupCertificateService()

	_, err := svc.Issue(context.Background(), guestActor, models.IssueCertificateInput{CourseID: "c1"})

	assert.ErrorContains(t, err, "registered account")
}

func TestCertificateService_VerifyRoundTrip(t *testing.T) {
	svc, _, store := setupCertificateService()
	seedCompletedEnrollment(store, "u1", "c1")
	seedCourse(store, "c1", "크레인 작업 안전", "기계", "건설기계", "크레인")

	issued, err := svc.Issue(context.Background(), userActor, models.IssueCertificateInput{CourseID: "c1"})
	require.NoError(t, err)
	token := issued.Certificate.VerificationToken

	result, err := svc.Verify(context.Background(), token)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Valid)
	require.NotNil(t, result.Certificate)
	assert.Equal(t, issued.Certificate.ID, result.Certificate.ID)

	// The check was logged on the certificate
	logs := store.subs[remote.CollectionCertificates+"/"+issued.Certificate.ID+"/"+remote.SubVerifications]
	assert.Len(t, logs, 1)
}

func TestCertificateService_VerifyUnknownToken(t *testing.T) {
	svc, _, _ := setupCertificateService()

	result, err := svc.Verify(context.Background(), "no-such-token")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Valid)
}

func TestCertificateService_RevokeInvalidatesVerification(t *testing.T) {
	svc, _, store := setupCertificateService()
	seedCompletedEnrollment(store, "u1", "c1")
	seedCourse(store, "c1", "크레인 작업 안전", "기계", "건설기계", "크레인")

	issued, err := svc.Issue(context.Background(), userActor, models.IssueCertificateInput{CourseID: "c1"})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), userActor, issued.Certificate.ID))

	result, err := svc.Verify(context.Background(), issued.Certificate.VerificationToken)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.NotNil(t, result.Certificate)
}

func TestCertificateService_RevokeRejectsForeignCertificate(t *testing.T) {
	svc, _, store := setupCertificateService()
	store.seed(remote.CollectionCertificates, "cert1", remote.Document{
		"userId": "u2", "courseId": "c1", "isValid": true,
	})

	err := svc.Revoke(context.Background(), userActor, "cert1")

	assert.ErrorContains(t, err, "does not belong")
}

func TestCertificateService_ListForGuestIsEmpty(t *testing.T) {
	svc, loader, _ := setupCertificateService()

	certs, status, err := svc.ListForUser(context.Background(), guestActor, false)

	require.NoError(t, err)
	assert.Empty(t, certs)
	assert.False(t, status.Degraded)
	assert.Empty(t, loader.loads)
}

func TestCertificateService_ListPermissionDeniedDegrades(t *testing.T) {
	svc, _, store := setupCertificateService()
	store.fetchErr = &remote.Error{Op: "list", Collection: remote.CollectionCertificates, Status: 403, Err: assert.AnError}

	certs, status, err := svc.ListForUser(context.Background(), userActor, false)

	require.NoError(t, err, "a denied listing degrades to an empty list")
	assert.Empty(t, certs)
	assert.True(t, status.Degraded)
}

func TestCertificateService_Stats(t *testing.T) {
	svc, _, store := setupCertificateService()
	store.seed(remote.CollectionCertificates, "cert1", remote.Document{
		"userId": "u1", "courseCategory": "기계 > 건설기계 > 크레인", "isValid": true,
	})
	store.seed(remote.CollectionCertificates, "cert2", remote.Document{
		"userId": "u1", "courseCategory": "기계 > 건설기계 > 크레인", "isValid": true,
	})
	store.seed(remote.CollectionCertificates, "cert3", remote.Document{
		"userId": "u1", "isValid": true,
	})

	stats, err := svc.Stats(context.Background(), userActor)

	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByCategory["기계 > 건설기계 > 크레인"])
	assert.Equal(t, 1, stats.ByCategory["미분류"])
	assert.Len(t, stats.Recent, 3)
}
