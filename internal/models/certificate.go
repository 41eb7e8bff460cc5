package models

import "time"

// Certificate is issued once per completed enrollment and is immutable
// afterwards except for the IsValid revocation flag.
type Certificate struct {
	ID                string    `json:"id"`
	CertificateNumber string    `json:"certificateNumber"`
	UserID            string    `json:"userId"`
	UserName          string    `json:"userName"`
	CourseID          string    `json:"courseId"`
	CourseName        string    `json:"courseName"`
	CourseCategory    string    `json:"courseCategory"`
	VerificationToken string    `json:"verificationToken"`
	IsValid           bool      `json:"isValid"`
	CompletedAt       time.Time `json:"completedAt"`
	IssuedAt          time.Time `json:"issuedAt"`
}

// IssueCertificateInput carries the data needed to issue a certificate.
type IssueCertificateInput struct {
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	CourseID   string `json:"courseId"`
	CourseName string `json:"courseName"`
}

// IssueCertificateResult is the discrete outcome of an issue call. A
// duplicate issue returns the existing certificate with Success=false.
type IssueCertificateResult struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message,omitempty"`
	Certificate *Certificate `json:"certificate,omitempty"`
}

// VerifyCertificateResult is returned when a verification token is checked,
// e.g. from a scanned QR code.
type VerifyCertificateResult struct {
	Success     bool         `json:"success"`
	Valid       bool         `json:"valid"`
	Message     string       `json:"message,omitempty"`
	Certificate *Certificate `json:"certificate,omitempty"`
}

// CertificateStats summarizes a user's certificates by category.
type CertificateStats struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"byCategory"`
	Recent     []Certificate  `json:"recentCertificates"`
}
