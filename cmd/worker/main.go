package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/psantana5/whisperq/pkg/auth"
	"github.com/psantana5/whisperq/pkg/logging"
	"github.com/psantana5/whisperq/pkg/models"
	"github.com/psantana5/whisperq/pkg/shutdown"
	tlsutil "github.com/psantana5/whisperq/pkg/tls"
	"github.com/psantana5/whisperq/pkg/tracing"
	"github.com/psantana5/whisperq/pkg/worker"
)

var version = "dev"

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	port := flag.String("port", envOr("PORT", "8000"), "HTTP listen port")
	input := flag.String("input", "", "run one request from a JSON file (- for stdin) and exit")
	ytdlpPath := flag.String("yt-dlp", envOr("YTDLP_PATH", "yt-dlp"), "yt-dlp binary")
	ffmpegPath := flag.String("ffmpeg", envOr("FFMPEG_PATH", "ffmpeg"), "ffmpeg binary")
	whisperPath := flag.String("whisper", envOr("WHISPER_BIN", "whisper-cli"), "whisper.cpp CLI binary")
	modelPath := flag.String("model", envOr("WHISPER_MODEL", "/models/ggml-large-v3.bin"), "whisper.cpp model file")
	threads := flag.Int("threads", envInt("WHISPER_THREADS", 0), "transcription threads (0 = whisper default)")
	fetchTimeout := flag.Duration("fetch-timeout", 5*time.Minute, "media download timeout")
	workDir := flag.String("work-dir", envOr("WORK_DIR", os.TempDir()), "scratch directory for per-request files")
	minFreeMB := flag.Uint64("min-free-disk-mb", 2048, "free disk required before fetching")
	publishSegments := flag.Bool("publish-segments", os.Getenv("PUBLISH_SEGMENTS") == "true", "also upload the timed segments as JSON")
	rps := flag.Float64("rate-limit", 2, "max /run requests per second per client (0 disables)")
	logDir := flag.String("log-dir", envOr("LOG_DIR", "/var/log/whisperq"), "log directory")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	apiKeys := flag.String("api-keys", os.Getenv("WORKER_API_KEYS"), "comma-separated API keys or bcrypt hashes required on /run (empty leaves it open)")
	genKey := flag.Bool("gen-key", false, "print a new API key and its bcrypt hash, then exit")
	tlsCert := flag.String("tls-cert", os.Getenv("TLS_CERT_FILE"), "TLS certificate file")
	tlsKey := flag.String("tls-key", os.Getenv("TLS_KEY_FILE"), "TLS key file")
	tlsClientCA := flag.String("tls-client-ca", os.Getenv("TLS_CLIENT_CA_FILE"), "CA file for client certificates (enables mTLS)")
	tlsSelfSigned := flag.Bool("tls-self-signed", false, "generate the TLS certificate and key files if missing (development)")
	otlpEndpoint := flag.String("otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP/HTTP collector host:port (empty disables tracing export)")
	flag.Parse()

	if *genKey {
		key, err := auth.GenerateKey()
		if err != nil {
			log.Fatal(err)
		}
		hash, err := auth.HashKey(key)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("key:  %s\nhash: %s\n", key, hash)
		return
	}

	level := logging.ParseLevel(*logLevel)
	logger, err := logging.NewFileLogger(filepath.Join(*logDir, "worker.log"), "worker", level, *logJSON, true)
	if err != nil {
		log.Printf("Warning: file logging unavailable (%v), logging to stderr only", err)
		logger = logging.NewLogger(level, *logJSON).WithField("component", "worker")
	}

	tp, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "whisperq-worker",
		ServiceVersion: version,
		Environment:    envOr("ENVIRONMENT", "production"),
		OTLPEndpoint:   *otlpEndpoint,
		Enabled:        *otlpEndpoint != "",
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := worker.NewMetrics(registry)

	pipeline := worker.NewPipeline(worker.Options{
		Fetcher:         worker.NewYTDLPFetcher(*ytdlpPath, *fetchTimeout),
		Extractor:       worker.NewFFmpegExtractor(*ffmpegPath),
		Transcriber:     worker.NewWhisperCPP(*whisperPath, *modelPath, *threads),
		Defaults:        worker.StorageDefaultsFromEnv(),
		PublishSegments: *publishSegments,
		WorkDir:         *workDir,
		MinFreeDiskMB:   *minFreeMB,
		Logger:          logger,
		Metrics:         metrics,
		Tracing:         tp,
	})

	keys, err := auth.NewKeySet(*apiKeys)
	if err != nil {
		logger.Fatal("Invalid API key list", map[string]interface{}{"error": err.Error()})
	}
	if keys.Len() == 0 && *input == "" {
		logger.Warn("No API keys configured, /run accepts unauthenticated requests")
	}

	server := worker.NewServer(pipeline, worker.ServerConfig{
		Binaries:           []string{*ytdlpPath, *ffmpegPath, *whisperPath},
		ModelPath:          *modelPath,
		WorkDir:            *workDir,
		MaxDiskUsedPercent: 90,
		RequestsPerSecond:  *rps,
		Burst:              1,
		Keys:               keys,
	}, registry, logger, tp)

	if *input != "" {
		code := runOneShot(server, *input, logger)
		tp.Shutdown(context.Background())
		logger.Close()
		os.Exit(code)
	}

	srv := &http.Server{
		Addr:        ":" + *port,
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		// a transcription can take as long as the media is
		WriteTimeout: 2 * time.Hour,
		IdleTimeout:  60 * time.Second,
	}

	tlsConfig := tlsutil.ServerConfig{CertFile: *tlsCert, KeyFile: *tlsKey, ClientCAFile: *tlsClientCA}
	if tlsConfig.Enabled() {
		if *tlsSelfSigned {
			if _, err := os.Stat(*tlsCert); os.IsNotExist(err) {
				host, _ := os.Hostname()
				if err := tlsutil.GenerateSelfSigned(*tlsCert, *tlsKey, host, 365*24*time.Hour); err != nil {
					logger.Fatal("Failed to generate certificate", map[string]interface{}{"error": err.Error()})
				}
				logger.Info("Generated self-signed certificate", map[string]interface{}{"cert": *tlsCert})
			}
		}
		srv.TLSConfig, err = tlsutil.LoadServerConfig(tlsConfig)
		if err != nil {
			logger.Fatal("Failed to load TLS configuration", map[string]interface{}{"error": err.Error()})
		}
	}

	mgr := shutdown.New(60*time.Second, logger)
	mgr.Register("tracing", tp.Shutdown)
	mgr.Register("in-flight run", shutdown.WaitForJobs(server.Idle, time.Second))
	mgr.Register("http-server", shutdown.StopHTTPServer(srv))
	ctx, cancel := mgr.Context(context.Background())
	defer cancel()

	go func() {
		logger.Info("Worker listening", map[string]interface{}{
			"addr":     srv.Addr,
			"model":    *modelPath,
			"work_dir": *workDir,
			"version":  version,
			"tls":      srv.TLSConfig != nil,
		})
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
			mgr.Trigger()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	mgr.Shutdown()
	logger.Close()
}

// runOneShot executes a single request read from path and prints the
// response envelope. The input may be a {"input": {...}} envelope or a
// bare request object.
func runOneShot(server *worker.Server, path string, logger *logging.Logger) int {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		logger.Error("Failed to read input", map[string]interface{}{"path": path, "error": err.Error()})
		return 2
	}

	var env worker.RunEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Error("Invalid input JSON", map[string]interface{}{"error": err.Error()})
		return 2
	}
	req := env.Input
	if req == (models.TranscriptionRequest{}) {
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Error("Invalid input JSON", map[string]interface{}{"error": err.Error()})
			return 2
		}
	}

	mgr := shutdown.New(0, logger)
	ctx, cancel := mgr.Context(context.Background())
	defer cancel()

	result, err := server.RunOnce(ctx, req)
	if err != nil {
		logger.Error("Run aborted", map[string]interface{}{"error": err.Error()})
		return 1
	}

	out, _ := json.MarshalIndent(worker.RunResponse{ID: env.ID, Output: result}, "", "  ")
	fmt.Println(string(out))
	if result.Status != models.ResultStatusDone {
		return 1
	}
	return 0
}
