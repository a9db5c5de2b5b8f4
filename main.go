package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/parisxmas/fieldops/internal/blob"
	"github.com/parisxmas/fieldops/internal/config"
	"github.com/parisxmas/fieldops/internal/db"
	"github.com/parisxmas/fieldops/internal/docgen"
	"github.com/parisxmas/fieldops/internal/gelf"
	"github.com/parisxmas/fieldops/internal/handler"
	"github.com/parisxmas/fieldops/internal/imaging"
	"github.com/parisxmas/fieldops/internal/receipt"
	"github.com/parisxmas/fieldops/internal/repository"
	"github.com/parisxmas/fieldops/internal/router"
	"github.com/parisxmas/fieldops/internal/sequence"
	"github.com/parisxmas/fieldops/internal/service"
	"github.com/parisxmas/fieldops/internal/signature"
	"github.com/parisxmas/fieldops/internal/staging"
	"github.com/parisxmas/fieldops/internal/submission"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	// GELF UDP logging
	if cfg.GelfAddr != "" {
		gelfWriter, err := gelf.New(cfg.GelfAddr, "fieldops")
		if err != nil {
			log.Printf("Warning: GELF init failed: %v", err)
		} else {
			defer gelfWriter.Close()
			log.SetOutput(io.MultiWriter(os.Stderr, gelfWriter))
			log.Printf("GELF logging: enabled (%s)", cfg.GelfAddr)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to OxiDB
	pool, err := db.NewPool(cfg.OxiDBHost, cfg.OxiDBPort, cfg.PoolSize)
	if err != nil {
		log.Fatalf("Failed to connect to OxiDB: %v", err)
	}
	defer pool.Close()
	log.Printf("Connected to OxiDB at %s:%d (pool size: %d)", cfg.OxiDBHost, cfg.OxiDBPort, cfg.PoolSize)

	// Work-order numbering
	seqDB, err := db.OpenSequenceDB(cfg.Sequence.Path)
	if err != nil {
		log.Fatalf("Failed to open sequence database: %v", err)
	}
	defer seqDB.Close()
	seq := sequence.New(seqDB, sequence.WorkOrderSequence, cfg.Sequence.Prefix, cfg.Sequence.Padding)
	if err := seq.Ensure(ctx); err != nil {
		log.Fatalf("Failed to prepare work-order sequence: %v", err)
	}

	// Repositories
	completions := repository.NewCompletionRepo(pool)
	workOrders := repository.NewWorkOrderRepo(pool)
	photos := repository.NewPhotoRepo(pool)
	jobs := repository.NewDocumentJobRepo(pool)
	records := &repository.Records{Completions: completions, WorkOrders: workOrders, Photos: photos}

	// Blob storage
	var blobs submission.BlobStore
	var blobH *handler.BlobHandler
	var oxiBlobs *blob.OxiDBStore
	switch cfg.Blob.Backend {
	case "s3":
		s3Store, err := blob.NewS3Store(ctx, blob.S3Options{
			Region:        cfg.Blob.S3Region,
			Endpoint:      cfg.Blob.S3Endpoint,
			Bucket:        cfg.Blob.Bucket,
			PublicBaseURL: cfg.Blob.PublicBaseURL,
		})
		if err != nil {
			log.Fatalf("Failed to configure S3: %v", err)
		}
		blobs = s3Store
		log.Printf("Blob storage: s3://%s", cfg.Blob.Bucket)
	default:
		oxiBlobs = blob.NewOxiDBStore(pool, cfg.Blob.Bucket, cfg.Blob.PublicBaseURL)
		blobs = oxiBlobs
		blobH = handler.NewBlobHandler(oxiBlobs)
		log.Printf("Blob storage: oxidb bucket %s", cfg.Blob.Bucket)
	}

	// Document generation
	var documents submission.DocumentGenerator
	switch cfg.Documents.Generator {
	case "webhook":
		documents = docgen.NewWebhookGenerator(cfg.Documents.WebhookURL, cfg.Documents.Timeout)
	default:
		documents = docgen.NewQueueGenerator(jobs)
	}

	receipts := receipt.NewSigner(cfg.ReceiptSecret, 0)

	// Staging: one store per session, previews on disk when a directory is set.
	compressor := imaging.NewCompressor(imaging.Options{
		MaxEdge: cfg.Staging.MaxEdge,
		MinEdge: cfg.Staging.MinEdge,
		Quality: cfg.Staging.Quality,
	})
	limits := staging.Limits{
		MaxBytes:       cfg.Staging.MaxBytes,
		MaxAssets:      cfg.Staging.MaxAssets,
		MaxPerCategory: cfg.Staging.MaxPerCategory,
	}
	newStore := func() *staging.Store {
		var previews staging.PreviewStore
		if cfg.Staging.PreviewDir != "" {
			dir, err := staging.NewDirPreviews(filepath.Join(cfg.Staging.PreviewDir, uuid.NewString()))
			if err != nil {
				log.Printf("Warning: preview dir unavailable, keeping previews in memory: %v", err)
			} else {
				previews = dir
			}
		}
		return staging.NewStore(limits, compressor, previews)
	}

	// Orchestrator and services
	detached := &service.DetachedRouter{}
	orch := submission.New(submission.Deps{
		Records:   records,
		Blobs:     blobs,
		Documents: documents,
		Sequence:  seq,
		Receipts:  receipts,
	}, submission.Options{
		Parallelism:        cfg.Upload.Parallelism,
		UploadTimeout:      cfg.Upload.Timeout,
		RecordTimeout:      cfg.Upload.RecordTimeout,
		DocumentTimeout:    cfg.Documents.Timeout,
		DetachTimeout:      cfg.Upload.DetachTimeout,
		Detach:             cfg.Upload.Detach,
		OnDetachedComplete: detached.Complete,
	})
	sessions := service.NewSessionService(orch, newStore, signature.DefaultOptions, cfg.SessionTTL)
	sessions.SetDetachTimeout(cfg.Upload.DetachTimeout)
	completionSvc := service.NewCompletionService(completions, photos, jobs, receipts)
	workOrderSvc := service.NewWorkOrderService(orch, newStore, workOrders, photos, signature.DefaultOptions)
	detached.Sessions = sessions
	detached.WorkOrders = workOrderSvc

	go sessions.Janitor(ctx, time.Minute)

	// Handlers
	r := router.New(router.Handlers{
		Sessions:    handler.NewSessionHandler(sessions),
		Completions: handler.NewCompletionHandler(completionSvc),
		WorkOrders:  handler.NewWorkOrderHandler(workOrderSvc),
		Blobs:       blobH,
		Admin: handler.NewAdminHandler(map[string]handler.Collection{
			repository.CompletionsCollection: completions,
			repository.WorkOrdersCollection:  workOrders,
			repository.PhotosCollection:      photos,
		}),
	})

	// Index creation runs in the background on a dedicated connection while
	// the server starts.
	go func() {
		log.Printf("Background init: starting")
		initPool, err := db.NewPool(cfg.OxiDBHost, cfg.OxiDBPort, 1)
		if err != nil {
			log.Printf("Warning: init pool connect failed, using main pool: %v", err)
			initPool = pool
		} else {
			log.Printf("Background init: dedicated connection ready")
		}
		defer func() {
			if initPool != pool {
				initPool.Close()
			}
		}()
		backgroundInit(ctx, initPool, seq, oxiBlobs != nil, cfg.Blob.Bucket)
	}()

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("FieldOps server starting on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}

func backgroundInit(ctx context.Context, pool *db.Pool, seq *sequence.Sequencer, ensureBucket bool, bucket string) {
	completions := repository.NewCompletionRepo(pool)
	workOrders := repository.NewWorkOrderRepo(pool)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"completion indexes", completions.EnsureIndexes},
		{"work-order indexes", workOrders.EnsureIndexes},
		{"photo indexes", repository.NewPhotoRepo(pool).EnsureIndexes},
		{"document job indexes", repository.NewDocumentJobRepo(pool).EnsureIndexes},
		{"completion text index", completions.EnsureTextIndex},
	}
	if ensureBucket {
		steps = append(steps, struct {
			name string
			fn   func(context.Context) error
		}{"blob bucket", blob.NewOxiDBStore(pool, bucket, "").EnsureBucket})
	}
	for _, step := range steps {
		start := time.Now()
		if err := step.fn(ctx); err != nil {
			log.Printf("Warning: %s failed: %v", step.name, err)
			continue
		}
		log.Printf("Background init: %s ready (%s)", step.name, time.Since(start).Round(time.Millisecond))
	}

	latest, err := workOrders.LatestNumber(ctx)
	if err != nil {
		log.Printf("Warning: reading latest work-order number: %v", err)
	} else if err := seq.Reconcile(ctx, latest); err != nil {
		log.Printf("Warning: reconciling work-order sequence: %v", err)
	}
	log.Printf("Background init: all done")
}
