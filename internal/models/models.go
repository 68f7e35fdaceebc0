package models

import (
	"time"
)

// JobStatus is the job lifecycle state. queued -> processing -> completed|failed;
// completed and failed are terminal.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the durable record tracked from intake to terminal state. The job store
// is the single source of truth for it; workers mutate it only through guarded
// transitions.
type Job struct {
	JobID        string     `json:"job_id"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	UploadBucket string     `json:"upload_bucket,omitempty"`
	UploadKey    string     `json:"upload_key"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Result       *JobResult `json:"result,omitempty"`
	ErrorMessage string     `json:"error,omitempty"`
}

// JobResult is present only on completed jobs.
type JobResult struct {
	AvatarKey string          `json:"avatar_key"`
	Identity  IdentityPackage `json:"identity"`
	Analysis  PetAnalysis     `json:"pet_analysis"`
}

// PetAnalysis is the structured output of the image analysis stage.
type PetAnalysis struct {
	Species               string         `json:"species"`
	Breed                 string         `json:"breed,omitempty"`
	Expression            string         `json:"expression,omitempty"`
	Posture               string         `json:"posture,omitempty"`
	PersonalityDimensions map[string]int `json:"personality_dimensions,omitempty"`
	DominantTraits        []string       `json:"dominant_traits,omitempty"`
	Vibe                  string         `json:"vibe,omitempty"`
}

// CareerProfile maps personality traits to a human profession.
type CareerProfile struct {
	JobTitle          string  `json:"job_title"`
	Seniority         string  `json:"seniority"`
	Industry          string  `json:"industry,omitempty"`
	WorkStyle         string  `json:"work_style,omitempty"`
	AttireStyle       string  `json:"attire_style,omitempty"`
	BackgroundSetting string  `json:"background_setting,omitempty"`
	ConfidenceScore   float64 `json:"confidence_score,omitempty"`
}

// CareerTrajectory narrates past, present, and future of the invented career.
type CareerTrajectory struct {
	Past    string `json:"past"`
	Present string `json:"present"`
	Future  string `json:"future"`
}

// IdentityPackage is the finished artifact payload: a full professional identity
// generated for the pet.
type IdentityPackage struct {
	HumanName        string           `json:"human_name"`
	JobTitle         string           `json:"job_title"`
	Seniority        string           `json:"seniority"`
	Bio              string           `json:"bio"`
	Skills           []string         `json:"skills"`
	CareerTrajectory CareerTrajectory `json:"career_trajectory"`
	SimilarityScore  float64          `json:"similarity_score"`
}
