package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/models"
	"github.com/qrsafety/backend/internal/remote"
	"github.com/qrsafety/backend/internal/syncer"
)

type courseService struct {
	sync   Loader
	store  DocumentStore
	desc   Descriptors
	logger *zap.Logger
}

// NewCourseService creates a new course service
func NewCourseService(sync Loader, store DocumentStore, desc Descriptors, logger *zap.Logger) *courseService {
	return &courseService{
		sync:   sync,
		store:  store,
		desc:   desc,
		logger: logger,
	}
}

// List returns the full catalog, newest first, through the tiered pipeline.
// A denied listing degrades to an empty catalog with the flag set instead of
// caching the empty list as fresh.
func (s *courseService) List(ctx context.Context, forceRefresh bool) ([]models.Course, models.ReadStatus, error) {
	result, err := s.sync.Load(ctx, s.desc.CourseList, keyCourseList(), s.fetchList(remote.Query{
		OrderBy: "createdAt",
		Desc:    true,
		// The catalog is small; one page covers it
		PageSize: 500,
	}), syncer.LoadOptions{ForceRefresh: forceRefresh})
	if err != nil {
		if remote.IsPermissionDenied(err) {
			s.logger.Warn("course listing denied, serving empty catalog", zap.Error(err))
			return []models.Course{}, models.ReadStatus{Degraded: true}, nil
		}
		s.logger.Error("failed to list courses", zap.Error(err))
		return nil, models.ReadStatus{}, err
	}
	return *result.Value.(*[]models.Course), readStatus(result), nil
}

// ListPage returns one cursor page of the catalog. Cursor pages bypass the
// cache tiers; only the full listing is cached.
func (s *courseService) ListPage(ctx context.Context, cursor string, pageSize int) (models.CoursePage, error) {
	page, err := s.store.FetchMany(ctx, remote.CollectionCourses, remote.Query{
		OrderBy:  "createdAt",
		Desc:     true,
		PageSize: pageSize,
		Cursor:   cursor,
	})
	if err != nil {
		if remote.IsPermissionDenied(err) {
			return models.CoursePage{Courses: []models.Course{}}, nil
		}
		s.logger.Error("failed to page courses", zap.Error(err))
		return models.CoursePage{}, fmt.Errorf("failed to page courses: %w", err)
	}

	courses := make([]models.Course, 0, len(page.Items))
	for _, doc := range page.Items {
		courses = append(courses, remote.CourseFromDocument(doc))
	}
	return models.CoursePage{
		Courses:    courses,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}, nil
}

// ListByCategory returns the catalog filtered to one leaf category.
func (s *courseService) ListByCategory(ctx context.Context, leaf string) ([]models.Course, models.ReadStatus, error) {
	if !models.ValidLeafCategory(leaf) {
		return nil, models.ReadStatus{}, fmt.Errorf("unknown category: %s", leaf)
	}

	result, err := s.sync.Load(ctx, s.desc.CourseList, keyCourseCategory(leaf), s.fetchList(remote.Query{
		Filters:  map[string]string{"category.leaf": leaf},
		OrderBy:  "createdAt",
		Desc:     true,
		PageSize: 50,
	}), syncer.LoadOptions{})
	if err != nil {
		if remote.IsPermissionDenied(err) {
			s.logger.Warn("course listing denied, serving empty catalog",
				zap.String("category", leaf),
				zap.Error(err),
			)
			return []models.Course{}, models.ReadStatus{Degraded: true}, nil
		}
		s.logger.Error("failed to list courses by category",
			zap.String("category", leaf),
			zap.Error(err),
		)
		return nil, models.ReadStatus{}, err
	}
	return *result.Value.(*[]models.Course), readStatus(result), nil
}

// GetByID returns one course with its per-language videos resolved.
func (s *courseService) GetByID(ctx context.Context, courseID string, forceRefresh bool) (*models.Course, models.ReadStatus, error) {
	if courseID == "" {
		return nil, models.ReadStatus{}, fmt.Errorf("course id is required")
	}

	result, err := s.sync.Load(ctx, s.desc.Course, keyCourse(courseID), func(ctx context.Context) (any, error) {
		doc, err := s.store.FetchOne(ctx, remote.CollectionCourses, courseID)
		if err != nil {
			return nil, err
		}
		course := remote.CourseFromDocument(doc)

		// Per-language videos live in a sub-collection; a failed listing
		// degrades to the primary video only.
		if subs, err := s.store.FetchSub(ctx, remote.CollectionCourses, courseID, remote.SubLanguageVideos); err != nil {
			s.logger.Warn("failed to list language videos",
				zap.String("courseId", courseID),
				zap.Error(err),
			)
		} else {
			course.LanguageVideos = remote.LanguageVideosFromDocuments(subs)
		}
		return &course, nil
	}, syncer.LoadOptions{ForceRefresh: forceRefresh})
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, models.ReadStatus{}, err
		}
		s.logger.Error("failed to get course", zap.String("courseId", courseID), zap.Error(err))
		return nil, models.ReadStatus{}, err
	}
	return result.Value.(*models.Course), readStatus(result), nil
}

// GetBatch returns the courses for the given IDs, preserving input order and
// skipping IDs with no document.
func (s *courseService) GetBatch(ctx context.Context, courseIDs []string) ([]models.Course, error) {
	if len(courseIDs) == 0 {
		return []models.Course{}, nil
	}

	docs, err := s.store.FetchBatch(ctx, remote.CollectionCourses, courseIDs)
	if err != nil {
		s.logger.Error("failed to batch-fetch courses", zap.Error(err))
		return nil, fmt.Errorf("failed to fetch courses: %w", err)
	}

	courses := make([]models.Course, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		courses = append(courses, remote.CourseFromDocument(doc))
	}
	return courses, nil
}

// ResolveVideo picks the playable video for a course in the requested
// language, falling back to the course's primary video when the language is
// unavailable.
func (s *courseService) ResolveVideo(ctx context.Context, courseID, language string) (models.VideoResolution, error) {
	course, _, err := s.GetByID(ctx, courseID, false)
	if err != nil {
		return models.VideoResolution{}, err
	}

	if language == "" {
		language = models.DefaultLanguage
	}

	if ref, ok := course.LanguageVideos[language]; ok && ref.URL != "" {
		duration := ref.Duration
		if duration == "" {
			duration = course.Duration
		}
		return models.VideoResolution{
			VideoURL: ref.URL,
			Language: language,
			Duration: duration,
		}, nil
	}

	if course.VideoURL == "" {
		return models.VideoResolution{}, fmt.Errorf("course %s has no playable video", courseID)
	}
	return models.VideoResolution{
		VideoURL: course.VideoURL,
		Language: models.DefaultLanguage,
		Duration: course.Duration,
		Fallback: language != models.DefaultLanguage,
	}, nil
}

// AvailableLanguages lists the course's language options with display names.
// The default language is always present.
func (s *courseService) AvailableLanguages(ctx context.Context, courseID string) ([]models.LanguageOption, error) {
	course, _, err := s.GetByID(ctx, courseID, false)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{models.DefaultLanguage: true}
	options := []models.LanguageOption{{
		Code:      models.DefaultLanguage,
		Name:      models.LanguageNames[models.DefaultLanguage],
		IsDefault: true,
	}}

	for _, code := range course.AvailableLanguages {
		if seen[code] || !models.ValidLanguage(code) {
			continue
		}
		seen[code] = true
		options = append(options, models.LanguageOption{Code: code, Name: models.LanguageNames[code]})
	}
	for code := range course.LanguageVideos {
		if seen[code] || !models.ValidLanguage(code) {
			continue
		}
		seen[code] = true
		options = append(options, models.LanguageOption{Code: code, Name: models.LanguageNames[code]})
	}
	return options, nil
}

// fetchList builds a catalog fetch for the tiered pipeline. Failures,
// permission denials included, surface as errors so the pipeline never
// caches a degraded listing as fresh.
func (s *courseService) fetchList(query remote.Query) syncer.Fetch {
	return func(ctx context.Context) (any, error) {
		page, err := s.store.FetchMany(ctx, remote.CollectionCourses, query)
		if err != nil {
			return nil, err
		}

		courses := make([]models.Course, 0, len(page.Items))
		for _, doc := range page.Items {
			courses = append(courses, remote.CourseFromDocument(doc))
		}
		return &courses, nil
	}
}
