package models

import "time"

// CategoryPath locates a course in the fixed main/middle/leaf taxonomy.
type CategoryPath struct {
	Main   string `json:"main"`
	Middle string `json:"middle"`
	Leaf   string `json:"leaf"`
}

// VideoRef points at a playable video for one language.
type VideoRef struct {
	URL      string `json:"url"`
	Language string `json:"language"`
	Duration string `json:"duration"`
}

// Course is a catalog record. Courses are created by an external ingestion
// process and are read-only for this application.
type Course struct {
	ID                 string              `json:"id"`
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	Category           CategoryPath        `json:"category"`
	ThumbnailURL       string              `json:"thumbnailUrl"`
	VideoURL           string              `json:"videoUrl"`
	LanguageVideos     map[string]VideoRef `json:"languageVideos,omitempty"`
	AvailableLanguages []string            `json:"availableLanguages"`
	Duration           string              `json:"duration"`
	Difficulty         string              `json:"difficulty"`
	EnrolledCount      int                 `json:"enrolledCount"`
	CompletionRate     float64             `json:"completionRate"`
	Rating             float64             `json:"rating"`
	ReviewCount        int                 `json:"reviewCount"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// CategoryLabel returns the joined display path, e.g. "기계 > 건설기계 > 크레인".
func (c CategoryPath) CategoryLabel() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{c.Main, c.Middle, c.Leaf} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "미분류"
	}
	label := parts[0]
	for _, p := range parts[1:] {
		label += " > " + p
	}
	return label
}

// CoursePage is one page of a cursor-paginated catalog listing.
type CoursePage struct {
	Courses    []Course `json:"courses"`
	NextCursor string   `json:"nextCursor,omitempty"`
	HasMore    bool     `json:"hasMore"`
}

// VideoResolution is the outcome of resolving a course video for a language.
type VideoResolution struct {
	VideoURL string `json:"videoUrl"`
	Language string `json:"language"`
	Duration string `json:"duration"`
	// Fallback is true when the requested language was unavailable and the
	// course's primary video was returned instead.
	Fallback bool `json:"fallback"`
}
