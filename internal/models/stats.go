package models

import "time"

// DashboardStats is the per-user learning dashboard rollup, derived from
// enrollments, progress and certificates.
type DashboardStats struct {
	TotalEnrolled   int        `json:"totalEnrolled"`
	Completed       int        `json:"completed"`
	InProgress      int        `json:"inProgress"`
	NotStarted      int        `json:"notStarted"`
	TotalHours      int        `json:"totalHours"`
	Certificates    int        `json:"certificates"`
	AverageProgress int        `json:"averageProgress"`
	CompletionRate  int        `json:"completionRate"`
	LastActivityAt  *time.Time `json:"lastActivityDate,omitempty"`
}

// RecentCourse is one entry of the "recent courses" dashboard list: the
// enrollment joined with course detail and live progress.
type RecentCourse struct {
	CourseID       string    `json:"id"`
	Title          string    `json:"title"`
	Category       string    `json:"category"`
	ThumbnailURL   string    `json:"thumbnail"`
	Duration       string    `json:"duration"`
	Progress       int       `json:"progress"`
	Status         string    `json:"status"`
	EnrolledAt     time.Time `json:"enrolledAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// CategoryStats aggregates a user's learning per main category.
type CategoryStats struct {
	Name              string `json:"name"`
	TotalCourses      int    `json:"totalCourses"`
	CompletedCourses  int    `json:"completedCourses"`
	InProgressCourses int    `json:"inProgressCourses"`
	AverageProgress   int    `json:"averageProgress"`
}
