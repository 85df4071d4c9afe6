package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoTarget is returned when the scan command gets no start URL.
	ErrNoTarget = errors.New("no start URL specified")

	// ErrInvalidTimeout is returned when a navigation timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidAuditTimeout is returned when the audit timeout is not positive.
	ErrInvalidAuditTimeout = errors.New("invalid audit timeout: must be positive")

	// ErrInvalidMaxPages is returned for a negative page cap.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be non-negative")

	// ErrInvalidMaxDepth is returned for a negative depth.
	ErrInvalidMaxDepth = errors.New("invalid max depth: must be non-negative")

	// ErrInvalidWaitUntil is returned for unknown load conditions.
	ErrInvalidWaitUntil = errors.New("invalid wait condition: must be load, domcontentloaded or networkidle")

	// ErrInvalidCrawlDelay is returned when the crawl delay is negative.
	ErrInvalidCrawlDelay = errors.New("invalid crawl delay: must be non-negative")

	// ErrInvalidCrawler is returned for unknown crawler backends.
	ErrInvalidCrawler = errors.New("invalid crawler: must be chrome or http")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid workers: must be positive")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrConflictingReportFormats is returned when both --json and
	// --markdown are given.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidStorage is returned for an unknown storage backend or an
	// incomplete S3 section.
	ErrInvalidStorage = errors.New("invalid storage configuration")

	// ErrMissingCredentials is returned when S3 storage is configured
	// without credentials in the environment.
	ErrMissingCredentials = errors.New("missing S3 credentials: set " + EnvS3AccessKey + " and " + EnvS3SecretKey)
)
