package cli

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jwulff/quill/internal/auth"
	"github.com/jwulff/quill/internal/blob"
	"github.com/jwulff/quill/internal/capture"
	"github.com/jwulff/quill/internal/config"
	"github.com/jwulff/quill/internal/daemon"
	"github.com/jwulff/quill/internal/db"
	"github.com/jwulff/quill/internal/logging"
	"github.com/jwulff/quill/internal/recording"
	"github.com/jwulff/quill/internal/summarize"
	"github.com/jwulff/quill/internal/workflow"
)

type metadataBackend interface {
	recording.MetadataStore
	Close() error
}

type blobBackend interface {
	recording.BlobStore
	workflow.AudioSource
}

// env is everything a command needs, built from the config.
type env struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	meta    metadataBackend
	blobs   blobBackend
	auth    *auth.Static
	session *capture.Session
	store   *recording.Store
	orch    *workflow.Orchestrator
}

// openEnv wires the stores, capture session and orchestrator. When logToFile
// is set the log goes under the data dir instead of stderr.
func openEnv(ctx context.Context, logToFile bool) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logPath := ""
	if logToFile {
		logPath = cfg.LogPath()
	}
	log, err := logging.New(cfg.LogLevel, logPath)
	if err != nil {
		return nil, err
	}

	meta, err := openMetadata(ctx, cfg)
	if err != nil {
		return nil, err
	}
	blobs, err := openBlobs(ctx, cfg, log)
	if err != nil {
		meta.Close()
		return nil, err
	}

	socketPath := cfg.Device.SocketPath
	if socketPath == "" {
		socketPath = daemon.SocketPath()
	}
	e := &env{
		cfg:   cfg,
		log:   log,
		meta:  meta,
		blobs: blobs,
		auth:  auth.NewStatic(cfg.UserID),
	}
	e.session = capture.NewSession(daemon.NewDevice(socketPath, log),
		capture.WithSpoolDir(cfg.SpoolDir()),
		capture.WithLogger(log),
	)
	e.store = recording.NewStore(blobs, meta, log)
	e.orch = workflow.New(e.session, e.store, e.auth, buildSummarizer(cfg),
		workflow.WithLogger(log),
		workflow.WithTimeout(cfg.Summarizer.Timeout),
		workflow.WithAudioSource(blobs),
	)
	log.Debugf("opened %s metadata store, %s blob store, %s summarizer",
		cfg.Metadata.Driver, cfg.Blob.Driver, cfg.Summarizer.Provider)
	return e, nil
}

// Close waits for running summaries, releases the microphone and closes the
// metadata store.
func (e *env) Close() {
	e.orch.Close()
	e.session.Reset()
	if err := e.meta.Close(); err != nil {
		e.log.Warnf("close metadata store: %v", err)
	}
	_ = e.log.Sync()
}

// load fetches the current user's recordings.
func (e *env) load(ctx context.Context) error {
	owner, ok := e.auth.CurrentUser()
	if !ok {
		return workflow.ErrSignInRequired
	}
	_, err := e.store.Fetch(ctx, owner)
	return err
}

// resolveID accepts a full ID or a unique prefix of one.
func (e *env) resolveID(arg string) (string, error) {
	if _, ok := e.store.Get(arg); ok {
		return arg, nil
	}
	var match string
	for _, r := range e.store.Items() {
		if strings.HasPrefix(r.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("%q matches more than one recording", arg)
			}
			match = r.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("recording %q: %w", arg, recording.ErrNotFound)
	}
	return match, nil
}

func openMetadata(ctx context.Context, cfg *config.Config) (metadataBackend, error) {
	switch cfg.Metadata.Driver {
	case "postgres":
		return db.OpenPostgres(ctx, db.PostgresConfig{DSN: cfg.Metadata.PostgresDSN})
	default:
		return db.Open(cfg.Metadata.SQLitePath)
	}
}

func openBlobs(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (blobBackend, error) {
	switch cfg.Blob.Driver {
	case "s3":
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:          cfg.Blob.Bucket,
			Region:          cfg.Blob.Region,
			Endpoint:        cfg.Blob.Endpoint,
			AccessKeyID:     cfg.Blob.AccessKeyID,
			SecretAccessKey: cfg.Blob.SecretAccessKey,
			PublicBaseURL:   cfg.Blob.PublicBaseURL,
		}, log)
	default:
		return blob.NewFS(cfg.Blob.Root, cfg.Blob.PublicBaseURL)
	}
}

func buildSummarizer(cfg *config.Config) summarize.Summarizer {
	sc := cfg.Summarizer
	switch sc.Provider {
	case "anthropic":
		a := summarize.NewAnthropic(sc.APIKey, sc.Model)
		if sc.TranscribeAPIKey != "" {
			a.Transcriber = summarize.NewOpenAI(sc.TranscribeAPIKey, "")
		}
		return a
	case "openai":
		return summarize.NewOpenAI(sc.APIKey, sc.Model)
	default:
		return summarize.NewFixed(sc.Delay)
	}
}
