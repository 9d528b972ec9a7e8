package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/psantana5/whisperq/pkg/logging"
	"github.com/psantana5/whisperq/pkg/models"
	"github.com/psantana5/whisperq/pkg/resources"
	"github.com/psantana5/whisperq/pkg/subtitle"
	"github.com/psantana5/whisperq/pkg/tracing"
)

// Options configures a Pipeline. Nil collaborators fall back to the
// command-line tools and minio-go.
type Options struct {
	Fetcher         Fetcher
	Extractor       Extractor
	Transcriber     Transcriber
	StoreFactory    StoreFactory
	Defaults        StorageDefaults
	PublishSegments bool
	WorkDir         string
	MinFreeDiskMB   uint64
	Logger          *logging.Logger
	Metrics         *Metrics
	Tracing         *tracing.Provider
}

// Pipeline runs one transcription request end to end. Run is safe to call
// repeatedly; no state is shared between runs.
type Pipeline struct {
	fetcher         Fetcher
	extractor       Extractor
	transcriber     Transcriber
	storeFactory    StoreFactory
	defaults        StorageDefaults
	publishSegments bool
	workDir         string
	minFreeDiskMB   uint64
	logger          *logging.Logger
	metrics         *Metrics
	tracing         *tracing.Provider
}

// NewPipeline creates a pipeline from opts
func NewPipeline(opts Options) *Pipeline {
	p := &Pipeline{
		fetcher:         opts.Fetcher,
		extractor:       opts.Extractor,
		transcriber:     opts.Transcriber,
		storeFactory:    opts.StoreFactory,
		defaults:        opts.Defaults,
		publishSegments: opts.PublishSegments,
		workDir:         opts.WorkDir,
		minFreeDiskMB:   opts.MinFreeDiskMB,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		tracing:         opts.Tracing,
	}
	if p.fetcher == nil {
		p.fetcher = NewYTDLPFetcher("", 0)
	}
	if p.extractor == nil {
		p.extractor = NewFFmpegExtractor("")
	}
	if p.transcriber == nil {
		p.transcriber = NewWhisperCPP("", os.Getenv("WHISPER_MODEL"), 0)
	}
	if p.storeFactory == nil {
		p.storeFactory = NewMinioStore
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	if p.tracing == nil {
		p.tracing, _ = tracing.InitTracer(tracing.Config{ServiceName: "whisperq-worker"})
	}
	return p
}

// artifact is one object to publish
type artifact struct {
	ext         string
	contentType string
	data        []byte
}

// Run executes validate, fetch, extract, transcribe, format and publish in
// order and returns exactly one result. The first failing stage ends the run.
func (p *Pipeline) Run(ctx context.Context, req models.TranscriptionRequest) models.TranscriptionResult {
	p.metrics.trackInFlight(1)
	defer p.metrics.trackInFlight(-1)

	ctx, span := p.tracing.StartSpan(ctx, "worker.pipeline", tracing.AttrJobID.String(req.JobID))

	result, err := p.run(ctx, req)
	tracing.EndSpan(span, err)

	if err != nil {
		stage := ""
		var se *StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		p.logger.Error("Transcription failed", map[string]interface{}{
			"job_id": req.JobID,
			"stage":  stage,
			"error":  err.Error(),
		})
		p.metrics.observeResult(models.ResultStatusError, stage)
		return models.FailedResult(req.JobID, err.Error())
	}

	p.logger.Info("Transcription published", map[string]interface{}{
		"job_id":   result.JobID,
		"srt_path": result.SRTPath,
	})
	p.metrics.observeResult(models.ResultStatusDone, "")
	return result
}

// stage runs fn inside a span and records its duration
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := p.tracing.StartSpan(ctx, "worker."+name, tracing.AttrStage.String(name))
	err := fn(ctx)
	tracing.EndSpan(span, err)
	p.metrics.observeStage(name, start)
	return err
}

func (p *Pipeline) run(ctx context.Context, in models.TranscriptionRequest) (models.TranscriptionResult, error) {
	req, err := resolveRequest(in, p.defaults)
	if err != nil {
		return models.TranscriptionResult{}, err
	}

	store, err := p.storeFactory(StorageTarget{
		Endpoint:  req.StorageEndpoint,
		AccessKey: req.StorageAccessKey,
		SecretKey: req.StorageSecretKey,
	})
	if err != nil {
		return models.TranscriptionResult{}, stageErr(StageValidate, ErrValidation, err, "invalid storage settings")
	}

	tmpDir, err := os.MkdirTemp(p.workDir, "whisperq-"+req.JobID+"-")
	if err != nil {
		return models.TranscriptionResult{}, stageErr(StageFetch, ErrFetch, err, "cannot create working directory")
	}
	defer os.RemoveAll(tmpDir)

	logger := p.logger.WithField("job_id", req.JobID)

	var mediaPath string
	err = p.stage(ctx, StageFetch, func(ctx context.Context) error {
		if p.minFreeDiskMB > 0 {
			if derr := resources.EnsureSufficientDiskSpace(tmpDir, p.minFreeDiskMB); derr != nil {
				return stageErr(StageFetch, ErrFetch, derr, "working directory has no room for media")
			}
		}
		var ferr error
		mediaPath, ferr = p.fetcher.Fetch(ctx, req.Source, tmpDir)
		return ferr
	})
	if err != nil {
		return models.TranscriptionResult{}, err
	}
	logger.Info("Media fetched", map[string]interface{}{"path": mediaPath})

	var audio Audio
	err = p.stage(ctx, StageExtract, func(ctx context.Context) error {
		var eerr error
		audio, eerr = p.extractor.Extract(ctx, mediaPath, tmpDir)
		return eerr
	})
	if err != nil {
		return models.TranscriptionResult{}, err
	}
	p.metrics.observeAudio(audio.Duration)
	logger.Info("Audio extracted", map[string]interface{}{
		"duration_sec": audio.Duration.Seconds(),
		"sample_rate":  audio.SampleRate,
	})

	var segments []models.Segment
	err = p.stage(ctx, StageTranscribe, func(ctx context.Context) error {
		var terr error
		segments, terr = p.transcriber.Transcribe(ctx, audio, req.Language)
		return terr
	})
	if err != nil {
		return models.TranscriptionResult{}, err
	}
	SortSegments(segments)
	p.metrics.observeSegments(len(segments))
	logger.Info("Transcription complete", map[string]interface{}{"summary": describeSegments(segments)})

	var artifacts []artifact
	err = p.stage(ctx, StageFormat, func(context.Context) error {
		artifacts = []artifact{
			{ext: "srt", contentType: "application/x-subrip", data: []byte(subtitle.FormatSRT(segments))},
			{ext: "vtt", contentType: "text/vtt", data: []byte(subtitle.FormatVTT(segments))},
		}
		if p.publishSegments {
			if segments == nil {
				segments = []models.Segment{}
			}
			data, merr := json.Marshal(segments)
			if merr != nil {
				return stageErr(StageFormat, ErrTranscribe, merr, "cannot encode segments")
			}
			artifacts = append(artifacts, artifact{ext: "json", contentType: "application/json", data: data})
		}
		return nil
	})
	if err != nil {
		return models.TranscriptionResult{}, err
	}

	result := models.TranscriptionResult{
		Status:    models.ResultStatusDone,
		JobID:     req.JobID,
		Language:  req.Language,
		SRTBucket: req.StorageBucket,
	}
	err = p.stage(ctx, StagePublish, func(ctx context.Context) error {
		return p.publish(ctx, store, req, artifacts, &result)
	})
	if err != nil {
		return models.TranscriptionResult{}, err
	}
	return result, nil
}

// publish uploads every artifact. Any failed upload fails the run, even if
// earlier artifacts already landed.
func (p *Pipeline) publish(ctx context.Context, store ObjectStore, req models.TranscriptionRequest, artifacts []artifact, result *models.TranscriptionResult) error {
	for _, a := range artifacts {
		key := artifactKey(req.StorageKeyPrefix, req.JobID, a.ext)
		location, err := store.Put(ctx, req.StorageBucket, key, a.data, a.contentType)
		if err != nil {
			return stageErr(StagePublish, ErrStorage, err, "upload of %s failed", S3URI(req.StorageBucket, key))
		}
		switch a.ext {
		case "srt":
			result.SRTKey, result.SRTPath = key, location
		case "vtt":
			result.RawVTTKey, result.RawVTTPath = key, location
		case "json":
			result.SegmentsKey, result.SegmentsPath = key, location
		}
	}
	return nil
}
