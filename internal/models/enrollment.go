package models

import "time"

// Enrollment status values.
const (
	EnrollmentStatusEnrolled  = "enrolled"
	EnrollmentStatusCompleted = "completed"
)

// Enrollment records one user taking one course. At most one enrollment
// exists per (userID, courseID); the document key is "{userID}_{courseID}"
// for authenticated users and a locally generated key for guests.
type Enrollment struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	CourseID          string     `json:"courseId"`
	Status            string     `json:"status"`
	Progress          int        `json:"progress"`
	PreferredLanguage string     `json:"preferredLanguage"`
	StudyTimeMinutes  int        `json:"studyTime"`
	IsQRAccess        bool       `json:"isQRAccess"`
	EnrolledAt        time.Time  `json:"enrolledAt"`
	LastAccessedAt    time.Time  `json:"lastAccessedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// Completed reports whether the enrollment has reached completion either by
// status or by progress.
func (e Enrollment) Completed() bool {
	return e.Status == EnrollmentStatusCompleted || e.Progress >= 100
}

// EnrollmentKey builds the composite document key for an authenticated
// enrollment or progress record.
func EnrollmentKey(userID, courseID string) string {
	return userID + "_" + courseID
}

// EnrollResult is the discrete success/failure outcome of an enroll call, so
// calling code can branch without exception handling.
type EnrollResult struct {
	Success         bool        `json:"success"`
	AlreadyEnrolled bool        `json:"alreadyEnrolled"`
	Message         string      `json:"message"`
	EnrollmentID    string      `json:"enrollmentId,omitempty"`
	Enrollment      *Enrollment `json:"enrollment,omitempty"`
}

// BatchEnrollResult reports a batch enrollment per course.
type BatchEnrollResult struct {
	Succeeded []EnrollResult `json:"succeeded"`
	Failed    []struct {
		CourseID string `json:"courseId"`
		Message  string `json:"message"`
	} `json:"failed"`
}

// EnrollmentStats is the per-user enrollment rollup.
type EnrollmentStats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	InProgress     int `json:"inProgress"`
	NotStarted     int `json:"notStarted"`
	TotalStudyTime int `json:"totalStudyTime"`
}
