package services

import (
	"github.com/qrsafety/backend/internal/config"
	"github.com/qrsafety/backend/internal/models"
	"github.com/qrsafety/backend/internal/syncer"
)

// cacheNamespace holds every synchronized entity in the local store. Guest
// data lives in its own namespace owned by the guest bridge.
const cacheNamespace = "cache"

// Descriptors bundles the per-entity synchronization policies, built once
// from configuration and shared by the services.
type Descriptors struct {
	CourseList    syncer.Descriptor
	Course        syncer.Descriptor
	Enrollments   syncer.Descriptor
	Progress      syncer.Descriptor
	Certificates  syncer.Descriptor
	Dashboard     syncer.Descriptor
	RecentCourses syncer.Descriptor
}

// NewDescriptors builds the entity policies from the cache configuration.
func NewDescriptors(cfg config.CacheConfig) Descriptors {
	return Descriptors{
		CourseList: syncer.Descriptor{
			Name:           "course-list",
			TTL:            cfg.CourseListTTL,
			LocalNamespace: cacheNamespace,
			New:            func() any { return new([]models.Course) },
		},
		// Course detail is immutable once ingested, so it never goes stale
		// on its own and leaves the tiers only through eviction.
		Course: syncer.Descriptor{
			Name:           "course",
			TTL:            0,
			LocalNamespace: cacheNamespace,
			New:            func() any { return new(models.Course) },
		},
		Enrollments: syncer.Descriptor{
			Name:           "enrollments",
			TTL:            cfg.EnrollmentTTL,
			LocalNamespace: cacheNamespace,
			New:            func() any { return new([]models.Enrollment) },
		},
		Progress: syncer.Descriptor{
			Name:           "progress",
			TTL:            cfg.ProgressTTL,
			LocalNamespace: cacheNamespace,
			New:            func() any { return new(models.Progress) },
		},
		Certificates: syncer.Descriptor{
			Name:           "certificates",
			TTL:            cfg.CertificateTTL,
			LocalNamespace: cacheNamespace,
			New:            func() any { return new([]models.Certificate) },
		},
		Dashboard: syncer.Descriptor{
			Name:           "dashboard-stats",
			TTL:            cfg.StatsTTL,
			LocalNamespace: cacheNamespace,
			New:            func() any { return new(models.DashboardStats) },
		},
		RecentCourses: syncer.Descriptor{
			Name:           "recent-courses",
			TTL:            cfg.StatsTTL,
			LocalNamespace: cacheNamespace,
			New:            func() any { return new([]models.RecentCourse) },
		},
	}
}

// Cache key builders. Mutations invalidate derived keys by these shapes, so
// every key for one entity family shares its prefix.

func keyCourseList() string                      { return "courses:all" }
func keyCourse(courseID string) string           { return "course:" + courseID }
func keyCourseCategory(leaf string) string       { return "courses:category:" + leaf }
func keyEnrollments(userID string) string        { return "enrollments:" + userID }
func keyProgress(userID, courseID string) string { return "progress:" + userID + ":" + courseID }
func keyProgressPrefix(userID string) string     { return "progress:" + userID + ":" }
func keyCertificates(userID string) string       { return "certificates:" + userID }
func keyDashboard(userID string) string          { return "stats:dashboard:" + userID }
func keyRecent(userID string) string             { return "stats:recent:" + userID }
