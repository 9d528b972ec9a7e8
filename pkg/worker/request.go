package worker

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/psantana5/whisperq/pkg/models"
)

// StorageDefaults are object storage settings configured on the worker
// host. Values carried by a request take precedence.
type StorageDefaults struct {
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// firstEnv returns the first non-empty environment variable among keys
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// StorageDefaultsFromEnv reads storage settings from the environment. The
// RUNPOD_SECRET_* names are what serverless secrets are exposed as.
func StorageDefaultsFromEnv() StorageDefaults {
	return StorageDefaults{
		Bucket:    firstEnv("STORAGE_BUCKET", "RUNPOD_SECRET_S3_BUCKET"),
		Endpoint:  firstEnv("STORAGE_ENDPOINT", "RUNPOD_SECRET_S3_ENDPOINT_URL"),
		AccessKey: firstEnv("STORAGE_ACCESS_KEY", "RUNPOD_SECRET_AWS_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"),
		SecretKey: firstEnv("STORAGE_SECRET_KEY", "RUNPOD_SECRET_AWS_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"),
	}
}

var (
	// whisper.cpp takes bare language codes only, no region subtags
	languagePattern = regexp.MustCompile(`^(auto|[a-z]{2,3})$`)
	keySafePattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
)

// resolveRequest applies defaults and validates a request before any side effect
func resolveRequest(req models.TranscriptionRequest, defaults StorageDefaults) (models.TranscriptionRequest, error) {
	out := models.TranscriptionRequest{
		Source:           strings.TrimSpace(req.Source),
		JobID:            strings.TrimSpace(req.JobID),
		Language:         strings.TrimSpace(req.Language),
		StorageBucket:    firstNonEmpty(req.StorageBucket, defaults.Bucket),
		StorageKeyPrefix: req.StorageKeyPrefix,
		StorageEndpoint:  firstNonEmpty(req.StorageEndpoint, defaults.Endpoint),
		StorageAccessKey: firstNonEmpty(req.StorageAccessKey, defaults.AccessKey),
		StorageSecretKey: firstNonEmpty(req.StorageSecretKey, defaults.SecretKey),
	}
	if out.Language == "" {
		out.Language = models.DefaultLanguage
	}
	if out.StorageKeyPrefix == "" {
		out.StorageKeyPrefix = models.DefaultStorageKeyPrefix
	}

	if out.Source == "" {
		return out, stageErr(StageValidate, ErrValidation, nil, "missing required input: source")
	}
	if strings.HasPrefix(out.Source, "-") {
		return out, stageErr(StageValidate, ErrValidation, nil, "source %q looks like a command-line option", out.Source)
	}
	if out.JobID == "" {
		return out, stageErr(StageValidate, ErrValidation, nil, "missing required input: job_id")
	}
	if !keySafePattern.MatchString(out.JobID) {
		return out, stageErr(StageValidate, ErrValidation, nil, "job_id %q is not usable as a storage key", out.JobID)
	}
	if !languagePattern.MatchString(out.Language) {
		return out, stageErr(StageValidate, ErrValidation, nil, "malformed language code %q", out.Language)
	}
	if out.StorageBucket == "" {
		return out, stageErr(StageValidate, ErrValidation, nil, "storage bucket not configured")
	}
	if strings.HasPrefix(out.StorageKeyPrefix, "/") || strings.Contains(out.StorageKeyPrefix, "..") {
		return out, stageErr(StageValidate, ErrValidation, nil, "invalid storage key prefix %q", out.StorageKeyPrefix)
	}
	if (out.StorageAccessKey == "") != (out.StorageSecretKey == "") {
		return out, stageErr(StageValidate, ErrValidation, nil, "storage access key and secret key must be set together")
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// artifactKey builds the deterministic object key <prefix><job_id>.<ext>
func artifactKey(prefix, jobID, ext string) string {
	return fmt.Sprintf("%s%s.%s", prefix, jobID, ext)
}
