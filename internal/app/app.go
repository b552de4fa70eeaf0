package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quorumlabs/lexvault/internal/config"
	"github.com/quorumlabs/lexvault/internal/core"
	db "github.com/quorumlabs/lexvault/internal/core/database"
	"github.com/quorumlabs/lexvault/internal/core/drive"
	"github.com/quorumlabs/lexvault/internal/core/ingestion_engine"
	"github.com/quorumlabs/lexvault/internal/core/llm"
	objectclient "github.com/quorumlabs/lexvault/internal/core/object-client"
)

type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Pipeline     *ingestion_engine.Pipeline
	Server       *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("database initialized and ready")

	var objClient core.ObjectClient
	if cfg.AwsAccessKey != "" && cfg.AwsSecretKey != "" {
		objClient, err = objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("object client initialized and ready")
	} else {
		slog.Warn("AWS credentials not set; document archival disabled")
	}

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedDim)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}

	extractor, err := llm.NewGeminiExtractor(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the metadata extractor: %w", err)
	}

	var driveClient core.DriveClient
	if cfg.DriveCreds != "" {
		dc, err := drive.NewDriveClient(appCtx, cfg.DriveCreds)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the drive client: %w", err)
		}
		driveClient = dc
		slog.Info("drive client initialized and ready")
	} else {
		slog.Warn("DRIVE_CREDENTIALS not set; drive sync disabled")
	}

	ingCfg := &ingestion_engine.IngestConfig{
		ChunkSize:     cfg.ChunkSize,
		ChunkOverlap:  cfg.ChunkOverlap,
		MaxConcurrent: cfg.MaxConcurrent,
		MaxBatchSize:  cfg.MaxBatchSize,
		StageTimeout:  cfg.StageTimeout,
	}
	pipeline, err := ingestion_engine.NewPipeline(dbClient, objClient, driveClient, embedder, extractor, cfg.BucketName, ingCfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the ingestion pipeline: %w", err)
	}

	server := NewServer(cfg, dbClient, pipeline, embedder)

	return &App{
		DBClient:     dbClient,
		ObjectClient: objClient,
		Pipeline:     pipeline,
		Server:       server,
	}, nil
}

func (a *App) Close() {
	if a.Pipeline != nil {
		a.Pipeline.Release()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
