package models

import "time"

// Progress is near-real-time playback telemetry for one (userID, courseID),
// layered under the coarser Enrollment status. Written on playback
// heartbeats; the percent never regresses once committed.
type Progress struct {
	UserID          string     `json:"userId"`
	CourseID        string     `json:"courseId"`
	Percent         int        `json:"progress"`
	LastWatchedTime float64    `json:"lastWatchedTime"`
	DurationSeconds float64    `json:"duration"`
	Language        string     `json:"language"`
	Completed       bool       `json:"completed"`
	Deleted         bool       `json:"deleted,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

// SaveProgressInput is the mutation payload from a playback heartbeat.
type SaveProgressInput struct {
	Percent     int     `json:"progress"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Language    string  `json:"language"`
}

// SaveProgressResult is the discrete outcome of a progress save.
type SaveProgressResult struct {
	Success     bool   `json:"success"`
	Progress    int    `json:"progress"`
	IsCompleted bool   `json:"isCompleted"`
	Message     string `json:"message,omitempty"`
}

// ProgressStats is the rollup over a user's progress records.
type ProgressStats struct {
	TotalCourses      int `json:"totalCourses"`
	CompletedCourses  int `json:"completedCourses"`
	InProgressCourses int `json:"inProgressCourses"`
	NotStartedCourses int `json:"notStartedCourses"`
	AverageProgress   int `json:"averageProgress"`
}

// CalculateProgressStats rolls a per-course progress map into summary
// counters, mirroring the dashboard aggregation.
func CalculateProgressStats(progress map[string]Progress) ProgressStats {
	var stats ProgressStats
	total := 0
	for _, p := range progress {
		stats.TotalCourses++
		total += p.Percent
		switch {
		case p.Completed || p.Percent >= 100:
			stats.CompletedCourses++
		case p.Percent > 0:
			stats.InProgressCourses++
		}
	}
	stats.NotStartedCourses = stats.TotalCourses - stats.CompletedCourses - stats.InProgressCourses
	if stats.TotalCourses > 0 {
		stats.AverageProgress = (total + stats.TotalCourses/2) / stats.TotalCourses
	}
	return stats
}
