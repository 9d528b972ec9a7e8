package worker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/whisperq/pkg/models"
)

func TestResolveRequestDefaults(t *testing.T) {
	req, err := resolveRequest(models.TranscriptionRequest{
		Source: " https://youtu.be/x ",
		JobID:  "job-1",
	}, StorageDefaults{Bucket: "env-bucket", Endpoint: "http://minio:9000"})
	require.NoError(t, err)

	assert.Equal(t, "https://youtu.be/x", req.Source)
	assert.Equal(t, "en", req.Language)
	assert.Equal(t, "transcriptions/", req.StorageKeyPrefix)
	assert.Equal(t, "env-bucket", req.StorageBucket)
	assert.Equal(t, "http://minio:9000", req.StorageEndpoint)
}

func TestResolveRequestPrefersRequestValues(t *testing.T) {
	req, err := resolveRequest(models.TranscriptionRequest{
		Source:           "src",
		JobID:            "job-1",
		StorageBucket:    "req-bucket",
		StorageAccessKey: "ak",
		StorageSecretKey: "sk",
	}, StorageDefaults{Bucket: "env-bucket", AccessKey: "env-ak", SecretKey: "env-sk"})
	require.NoError(t, err)
	assert.Equal(t, "req-bucket", req.StorageBucket)
	assert.Equal(t, "ak", req.StorageAccessKey)
	assert.Equal(t, "sk", req.StorageSecretKey)
}

func TestResolveRequestValidation(t *testing.T) {
	base := models.TranscriptionRequest{Source: "src", JobID: "job-1", StorageBucket: "b"}

	tests := []struct {
		name    string
		mutate  func(r *models.TranscriptionRequest)
		wantMsg string
	}{
		{"missing source", func(r *models.TranscriptionRequest) { r.Source = "" }, "missing required input: source"},
		{"missing job id", func(r *models.TranscriptionRequest) { r.JobID = "  " }, "missing required input: job_id"},
		{"unsafe job id", func(r *models.TranscriptionRequest) { r.JobID = "../etc" }, "not usable as a storage key"},
		{"option-like source", func(r *models.TranscriptionRequest) { r.Source = "--exec=touch /tmp/x" }, "looks like a command-line option"},
		{"short option source", func(r *models.TranscriptionRequest) { r.Source = " -a list.txt" }, "looks like a command-line option"},
		{"bad language", func(r *models.TranscriptionRequest) { r.Language = "English!" }, "malformed language code"},
		{"region language", func(r *models.TranscriptionRequest) { r.Language = "en-US" }, "malformed language code"},
		{"script language", func(r *models.TranscriptionRequest) { r.Language = "zh_Hant" }, "malformed language code"},
		{"missing bucket", func(r *models.TranscriptionRequest) { r.StorageBucket = "" }, "storage bucket not configured"},
		{"absolute prefix", func(r *models.TranscriptionRequest) { r.StorageKeyPrefix = "/abs/" }, "invalid storage key prefix"},
		{"half credentials", func(r *models.TranscriptionRequest) { r.StorageAccessKey = "ak" }, "must be set together"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := resolveRequest(req, StorageDefaults{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Contains(t, err.Error(), "validate: ")
		})
	}
}

func TestResolveRequestLanguages(t *testing.T) {
	for _, lang := range []string{"en", "auto", "pt", "zh", "yue"} {
		_, err := resolveRequest(models.TranscriptionRequest{
			Source: "s", JobID: "j", StorageBucket: "b", Language: lang,
		}, StorageDefaults{})
		assert.NoError(t, err, lang)
	}
}

func TestStorageDefaultsFromEnv(t *testing.T) {
	t.Setenv("STORAGE_BUCKET", "")
	t.Setenv("RUNPOD_SECRET_S3_BUCKET", "secret-bucket")
	t.Setenv("STORAGE_ENDPOINT", "http://localhost:9000")
	t.Setenv("STORAGE_ACCESS_KEY", "")
	t.Setenv("RUNPOD_SECRET_AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "aws-ak")

	d := StorageDefaultsFromEnv()
	assert.Equal(t, "secret-bucket", d.Bucket)
	assert.Equal(t, "http://localhost:9000", d.Endpoint)
	assert.Equal(t, "aws-ak", d.AccessKey)
}

func TestArtifactKey(t *testing.T) {
	assert.Equal(t, "transcriptions/job-1.srt", artifactKey("transcriptions/", "job-1", "srt"))
	assert.Equal(t, "job-1.vtt", artifactKey("", "job-1", "vtt"))
}
