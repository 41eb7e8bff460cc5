package remote

import (
	"time"

	"github.com/qrsafety/backend/internal/models"
)

// Collection names in the remote document store.
const (
	CollectionCourses      = "uploads"
	CollectionEnrollments  = "enrollments"
	CollectionProgress     = "progress"
	CollectionCertificates = "certificates"
	CollectionAccessLogs   = "qr_access_logs"

	SubVerifications  = "verifications"
	SubLanguageVideos = "language_videos"
)

// CourseFromDocument maps a catalog document to a Course. Absent fields get
// zero values so a sparse legacy document still yields a usable record.
func CourseFromDocument(doc Document) models.Course {
	course := models.Course{
		ID:             docString(doc, "id"),
		Title:          docString(doc, "title"),
		Description:    docString(doc, "description"),
		ThumbnailURL:   docString(doc, "thumbnailUrl"),
		VideoURL:       docString(doc, "videoUrl"),
		Duration:       docString(doc, "duration"),
		Difficulty:     docString(doc, "difficulty"),
		EnrolledCount:  docInt(doc, "enrolledCount"),
		CompletionRate: docFloat(doc, "completionRate"),
		Rating:         docFloat(doc, "rating"),
		ReviewCount:    docInt(doc, "reviewCount"),
		CreatedAt:      docTime(doc, "createdAt"),
		UpdatedAt:      docTime(doc, "updatedAt"),
	}

	if cat, ok := doc["category"].(map[string]any); ok {
		course.Category = models.CategoryPath{
			Main:   docString(cat, "main"),
			Middle: docString(cat, "middle"),
			Leaf:   docString(cat, "leaf"),
		}
	} else {
		// Legacy documents carry a flat leaf-category string
		course.Category.Leaf = docString(doc, "category")
	}

	if langs, ok := doc["availableLanguages"].([]any); ok {
		for _, l := range langs {
			if s, ok := l.(string); ok {
				course.AvailableLanguages = append(course.AvailableLanguages, s)
			}
		}
	}

	return course
}

// LanguageVideosFromDocuments maps a language_videos sub-collection listing
// to per-language video references keyed by language code.
func LanguageVideosFromDocuments(docs []Document) map[string]models.VideoRef {
	if len(docs) == 0 {
		return nil
	}
	videos := make(map[string]models.VideoRef, len(docs))
	for _, doc := range docs {
		lang := docString(doc, "language")
		if lang == "" {
			continue
		}
		videos[lang] = models.VideoRef{
			URL:      docString(doc, "videoUrl"),
			Language: lang,
			Duration: docString(doc, "duration"),
		}
	}
	return videos
}

// EnrollmentFromDocument maps an enrollment document to an Enrollment.
func EnrollmentFromDocument(doc Document) models.Enrollment {
	e := models.Enrollment{
		ID:                docString(doc, "id"),
		UserID:            docString(doc, "userId"),
		CourseID:          docString(doc, "courseId"),
		Status:            docString(doc, "status"),
		Progress:          docInt(doc, "progress"),
		PreferredLanguage: docString(doc, "preferredLanguage"),
		StudyTimeMinutes:  docInt(doc, "studyTime"),
		IsQRAccess:        docBool(doc, "isQRAccess"),
		EnrolledAt:        docTime(doc, "enrolledAt"),
		LastAccessedAt:    docTime(doc, "lastAccessedAt"),
	}
	if e.Status == "" {
		e.Status = models.EnrollmentStatusEnrolled
	}
	if t := docTime(doc, "completedAt"); !t.IsZero() {
		e.CompletedAt = &t
	}
	return e
}

// EnrollmentToDocument maps an Enrollment to its stored form.
func EnrollmentToDocument(e models.Enrollment) Document {
	doc := Document{
		"id":                e.ID,
		"userId":            e.UserID,
		"courseId":          e.CourseID,
		"status":            e.Status,
		"progress":          e.Progress,
		"preferredLanguage": e.PreferredLanguage,
		"studyTime":         e.StudyTimeMinutes,
		"isQRAccess":        e.IsQRAccess,
		"enrolledAt":        e.EnrolledAt.Format(time.RFC3339),
		"lastAccessedAt":    e.LastAccessedAt.Format(time.RFC3339),
	}
	if e.CompletedAt != nil {
		doc["completedAt"] = e.CompletedAt.Format(time.RFC3339)
	}
	return doc
}

// ProgressFromDocument maps a progress document to a Progress record.
func ProgressFromDocument(doc Document) models.Progress {
	p := models.Progress{
		UserID:          docString(doc, "userId"),
		CourseID:        docString(doc, "courseId"),
		Percent:         docInt(doc, "progress"),
		LastWatchedTime: docFloat(doc, "lastWatchedTime"),
		DurationSeconds: docFloat(doc, "duration"),
		Language:        docString(doc, "language"),
		Completed:       docBool(doc, "completed"),
		Deleted:         docBool(doc, "deleted"),
	}
	if t := docTime(doc, "updatedAt"); !t.IsZero() {
		p.UpdatedAt = &t
	}
	return p
}

// ProgressToDocument maps a Progress record to its stored form.
func ProgressToDocument(p models.Progress) Document {
	doc := Document{
		"userId":          p.UserID,
		"courseId":        p.CourseID,
		"progress":        p.Percent,
		"lastWatchedTime": p.LastWatchedTime,
		"duration":        p.DurationSeconds,
		"language":        p.Language,
		"completed":       p.Completed,
	}
	if p.Deleted {
		doc["deleted"] = true
	}
	if p.UpdatedAt != nil {
		doc["updatedAt"] = p.UpdatedAt.Format(time.RFC3339)
	}
	return doc
}

// CertificateFromDocument maps a certificate document to a Certificate.
func CertificateFromDocument(doc Document) models.Certificate {
	cert := models.Certificate{
		ID:                docString(doc, "id"),
		CertificateNumber: docString(doc, "certificateNumber"),
		UserID:            docString(doc, "userId"),
		UserName:          docString(doc, "userName"),
		CourseID:          docString(doc, "courseId"),
		CourseName:        docString(doc, "courseName"),
		CourseCategory:    docString(doc, "courseCategory"),
		VerificationToken: docString(doc, "verificationToken"),
		CompletedAt:       docTime(doc, "completedAt"),
		IssuedAt:          docTime(doc, "issuedAt"),
	}
	// Legacy certificates predate the revocation flag and are valid
	if v, ok := doc["isValid"].(bool); ok {
		cert.IsValid = v
	} else {
		cert.IsValid = true
	}
	return cert
}

// CertificateToDocument maps a Certificate to its stored form.
func CertificateToDocument(c models.Certificate) Document {
	return Document{
		"id":                c.ID,
		"certificateNumber": c.CertificateNumber,
		"userId":            c.UserID,
		"userName":          c.UserName,
		"courseId":          c.CourseID,
		"courseName":        c.CourseName,
		"courseCategory":    c.CourseCategory,
		"verificationToken": c.VerificationToken,
		"isValid":           c.IsValid,
		"completedAt":       c.CompletedAt.Format(time.RFC3339),
		"issuedAt":          c.IssuedAt.Format(time.RFC3339),
	}
}

func docString(doc map[string]any, key string) string {
	if s, ok := doc[key].(string); ok {
		return s
	}
	return ""
}

func docInt(doc map[string]any, key string) int {
	switch v := doc[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func docFloat(doc map[string]any, key string) float64 {
	switch v := doc[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func docBool(doc map[string]any, key string) bool {
	if b, ok := doc[key].(bool); ok {
		return b
	}
	return false
}

// docTime accepts either an RFC3339 string or an epoch-millisecond number.
func docTime(doc map[string]any, key string) time.Time {
	switch v := doc[key].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	case float64:
		return time.UnixMilli(int64(v))
	}
	return time.Time{}
}
