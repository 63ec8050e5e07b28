package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/models"
)

var ErrImportJobNotFound = errors.New("import job not found")

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// ImportJob is the pollable status of one asynchronous import.
type ImportJob struct {
	ID        string              `json:"id"`
	FileName  string              `json:"file_name"`
	State     JobState            `json:"state"`
	Current   int                 `json:"current"`
	Total     int                 `json:"total"`
	Result    *ImportResult       `json:"result,omitempty"`
	Error     *models.LedgerError `json:"error,omitempty"`
	CreatedBy string              `json:"created_by,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type JobStore interface {
	Save(ctx context.Context, job *ImportJob) error
	Get(ctx context.Context, id string) (*ImportJob, error)
}

const jobKeyPrefix = "import:job:"

type RedisJobStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisJobStore(client *redis.Client, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{redis: client, ttl: ttl}
}

func (s *RedisJobStore) Save(ctx context.Context, job *ImportJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKeyPrefix+job.ID, data, s.ttl).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*ImportJob, error) {
	data, err := s.redis.Get(ctx, jobKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrImportJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load import job: %w", err)
	}
	var job ImportJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode import job: %w", err)
	}
	return &job, nil
}

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]ImportJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]ImportJob)}
}

func (s *MemoryJobStore) Save(_ context.Context, job *ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrImportJobNotFound
	}
	return &job, nil
}

// ImportRunner runs imports in the background, one goroutine per job, and
// publishes progress to a JobStore.
type ImportRunner struct {
	imports *ImportService
	jobs    JobStore
	audit   *audit.Logger
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func NewImportRunner(imports *ImportService, jobs JobStore, auditLog *audit.Logger, log zerolog.Logger) *ImportRunner {
	return &ImportRunner{
		imports: imports,
		jobs:    jobs,
		audit:   auditLog,
		log:     logger.Component(log, "import-runner"),
	}
}

// Start parses the file synchronously so format errors reach the caller,
// then validates and commits in the background.
func (r *ImportRunner) Start(ctx context.Context, data []byte, filename string, opts ImportOptions) (*ImportJob, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	rows, err := ParseImport(bytes.NewReader(data), format)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &ImportJob{
		ID:        uuid.NewString(),
		FileName:  filename,
		State:     JobQueued,
		Total:     len(rows),
		CreatedBy: opts.Actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.jobs.Save(ctx, job); err != nil {
		return nil, models.StoreError("save import job", err)
	}

	r.log.Info().Str("job_id", job.ID).Str("file", filename).Int("rows", len(rows)).Msg("import queued")

	snapshot := *job
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(job, rows, opts)
	}()
	return &snapshot, nil
}

func (r *ImportRunner) run(job *ImportJob, rows []RawRow, opts ImportOptions) {
	ctx := context.Background()
	job.State = JobRunning
	r.save(ctx, job)

	result, err := r.imports.Run(ctx, rows, opts, func(current, total int) {
		job.Current = current
		job.Total = total
		r.save(ctx, job)
	})

	if err != nil {
		job.State = JobFailed
		var le *models.LedgerError
		if !errors.As(err, &le) {
			le = models.StoreError("import", err)
		}
		job.Error = le
		r.save(ctx, job)
		if le.Code == models.CodeStoreUnavailable {
			r.audit.LogError(0, 0, err)
		}
		r.log.Error().Err(err).Str("job_id", job.ID).Msg("import failed")
		return
	}

	job.Result = result
	job.State = JobCompleted
	if !result.Success && result.Processed == 0 {
		job.State = JobFailed
	}
	r.save(ctx, job)
	r.audit.LogImport(job.ID, result.Processed, len(result.Errors))
	r.log.Info().Str("job_id", job.ID).Str("result", result.Message).Msg("import finished")
}

func (r *ImportRunner) save(ctx context.Context, job *ImportJob) {
	job.UpdatedAt = time.Now()
	if err := r.jobs.Save(ctx, job); err != nil {
		r.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to publish import status")
	}
}

func (r *ImportRunner) Status(ctx context.Context, id string) (*ImportJob, error) {
	return r.jobs.Get(ctx, id)
}

// Wait blocks until every started import has finished.
func (r *ImportRunner) Wait() {
	r.wg.Wait()
}
