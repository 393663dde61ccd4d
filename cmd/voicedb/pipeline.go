package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/voicedb/internal/config"
	"github.com/ehr/voicedb/internal/domain/command"
	"github.com/ehr/voicedb/internal/domain/compliance"
	"github.com/ehr/voicedb/internal/domain/execution"
	"github.com/ehr/voicedb/internal/domain/schema"
	"github.com/ehr/voicedb/internal/domain/statement"
	"github.com/ehr/voicedb/internal/platform/db"
	"github.com/ehr/voicedb/internal/platform/hipaa"
)

// front is the part of the pipeline that needs no database.
type front struct {
	normalizer *command.Normalizer
	extractor  *command.Extractor
	synth      *statement.Synthesizer
	catalog    *statement.Catalog
}

func buildFront(cfg *config.Config, reg *schema.Registry) (*front, error) {
	rules, err := command.LoadRuleSet(reg, cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	catalog, err := statement.NewCatalog(reg, cfg.ReadRowLimit)
	if err != nil {
		return nil, fmt.Errorf("build template catalog: %w", err)
	}
	return &front{
		normalizer: command.NewNormalizer(reg, rules),
		extractor:  command.NewExtractor(rules),
		synth:      statement.NewSynthesizer(reg, catalog),
		catalog:    catalog,
	}, nil
}

// pipeline owns the connections behind a running Service.
type pipeline struct {
	svc       *execution.Service
	reg       *schema.Registry
	retention *hipaa.RetentionService
	pool      *pgxpool.Pool
	auditFile *hipaa.FileAuditSink
}

func (p *pipeline) Close() {
	if p.auditFile != nil {
		p.auditFile.Close()
	}
	p.pool.Close()
}

func openPipeline(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pipeline, error) {
	reg := schema.MustDefault()
	f, err := buildFront(cfg, reg)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, err
	}
	p := &pipeline{reg: reg, pool: pool}

	var sink hipaa.AuditSink = hipaa.NewPGAuditSink(pool)
	if cfg.AuditFallbackPath != "" {
		p.auditFile, err = hipaa.OpenFileAuditSink(cfg.AuditFallbackPath)
		if err != nil {
			pool.Close()
			return nil, err
		}
		sink = hipaa.NewFallbackSink(sink, p.auditFile, logger)
	}

	p.retention = hipaa.NewRetentionService(hipaa.DefaultRetentionPolicies(), logger)
	exec := execution.NewExecutor(
		execution.NewPGStorage(pool, f.catalog, cfg.StorageTimeout),
		sink, reg, p.retention, cfg.AuditTimeout, logger,
	)
	p.svc = execution.NewService(f.normalizer, f.extractor, f.synth, compliance.NewGate(), exec, logger)
	return p, nil
}
