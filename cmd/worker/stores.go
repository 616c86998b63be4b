package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/repository/memory"
	"github.com/ignite/lifecycle-engine/internal/repository/postgres"
	"github.com/ignite/lifecycle-engine/internal/service/enrollment"
	"github.com/ignite/lifecycle-engine/internal/service/nudge"
	"github.com/ignite/lifecycle-engine/internal/service/routing"
	"github.com/ignite/lifecycle-engine/internal/service/sequence"
	"github.com/ignite/lifecycle-engine/internal/service/tagging"
)

// subjectStore is what the engine, router and dispatcher need from the
// subject table.
type subjectStore interface {
	Get(ctx context.Context, id string) (*domain.Subject, error)
	UpdateDerived(ctx context.Context, id string, score domain.Score) error
	routing.SubjectRepository
}

type tickRuns interface {
	Record(ctx context.Context, s domain.TickSummary) error
	Recent(ctx context.Context, kind string, limit int) ([]domain.TickSummary, error)
}

// stores groups the persistence layer. Postgres when a database is
// configured, in-memory otherwise.
type stores struct {
	tags        tagging.Store
	subjects    subjectStore
	resources   routing.ResourceRepository
	enrollments enrollment.Repository
	activity    nudge.ActivitySource
	ticks       tickRuns
	sequences   sequence.Source
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime.D())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func openRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func newStores(db *sql.DB) *stores {
	if db == nil {
		log.Println("No DATABASE_URL configured, using in-memory stores")
		subjects := memory.NewSubjectRepo()
		return &stores{
			tags:        memory.NewTagStore(),
			subjects:    subjects,
			resources:   memory.NewResourceRepo(),
			enrollments: memory.NewEnrollmentRepo(),
			activity:    memory.NewActivityStore(subjects),
			ticks:       memory.NewTickRunRepo(),
		}
	}
	return &stores{
		tags:        postgres.NewTagStore(db),
		subjects:    postgres.NewSubjectRepo(db),
		resources:   postgres.NewResourceRepo(db),
		enrollments: postgres.NewEnrollmentRepo(db),
		activity:    postgres.NewActivityRepo(db),
		ticks:       postgres.NewTickRunRepo(db),
		sequences:   postgres.NewSequenceSource(db),
	}
}

// sequenceSource picks where definitions come from. The "db" source needs
// a database and falls back to the YAML file without one.
func sequenceSource(ctx context.Context, cfg config.SequencesConfig, st *stores) (sequence.Source, error) {
	switch cfg.Source {
	case "s3":
		if cfg.Bucket == "" || cfg.Key == "" {
			return nil, fmt.Errorf("sequences: s3 source needs bucket and key")
		}
		return sequence.NewS3Source(ctx, cfg.Bucket, cfg.Key, cfg.Region)
	case "file":
		return sequence.FileSource{Path: cfg.Path}, nil
	case "db", "":
		if st.sequences != nil {
			return st.sequences, nil
		}
		log.Printf("Sequences: no database, reading %s", cfg.Path)
		return sequence.FileSource{Path: cfg.Path}, nil
	default:
		return nil, fmt.Errorf("sequences: unknown source %q", cfg.Source)
	}
}
