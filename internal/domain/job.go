package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// GenerationType enumerates supported generation styles.
type GenerationType string

const (
	GenerationTypeOutfitSwap  GenerationType = "outfit_swap"
	GenerationTypeFullRestyle GenerationType = "full_restyle"
)

// ValidGenerationType reports whether t is a known generation type.
func ValidGenerationType(t GenerationType) bool {
	switch t {
	case GenerationTypeOutfitSwap, GenerationTypeFullRestyle:
		return true
	}
	return false
}

// Job encapsulates the lifecycle of one outfit generation request. Generation
// parameters are immutable after creation; outcome fields are written exactly
// once when the job reaches a terminal state.
type Job struct {
	ID                 string
	UserID             string
	Status             JobStatus
	Attempts           int
	PromptText         string
	InputImageURL      string
	SourceImageStockID string // empty unless the job referenced a stocked photo
	GenerationType     GenerationType
	Model              GenerationModel
	BackgroundChange   string
	ResultImageURL     string
	ErrorMessage       string
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Stale reports whether a processing job has been held longer than timeout.
// StartedAt, not the queue's visibility window, is the authoritative signal
// for a crashed worker: the visibility timeout alone cannot distinguish
// "still legitimately processing" from "abandoned mid-flight".
func (j *Job) Stale(now time.Time, timeout time.Duration) bool {
	if j.Status != JobStatusProcessing || j.StartedAt == nil {
		return false
	}
	return now.Sub(*j.StartedAt) >= timeout
}
