package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"recipe-importer/internal/core/importer"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"

	"go.uber.org/zap"
)

// JobStatus 匯入任務狀態
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Runner 執行一次匯入
type Runner func(ctx context.Context, rng importer.Range) (*importer.Report, error)

// Job 匯入任務
type Job struct {
	ID         string           `json:"id"`
	Range      importer.Range   `json:"range"`
	Status     JobStatus        `json:"status"`
	Report     *importer.Report `json:"report,omitempty"`
	Error      string           `json:"error,omitempty"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// Status 隊列狀態
type Status struct {
	QueueLength    int `json:"queue_length"`
	ProcessedCount int `json:"processed_count"`
	MaxQueueSize   int `json:"max_queue_size"`
	Workers        int `json:"workers"`
}

// Manager 隊列管理器，任務在背景依序執行
type Manager struct {
	config    config.QueueConfig
	queue     chan string
	done      chan struct{}
	processed int64

	mu   sync.RWMutex
	jobs map[string]*Job

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewManager 創建新的隊列管理器
func NewManager(cfg config.QueueConfig) *Manager {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = time.Hour
	}
	if cfg.MaxJobs < cfg.MaxSize {
		cfg.MaxJobs = max(cfg.MaxSize, 1000)
	}
	return &Manager{
		config: cfg,
		queue:  make(chan string, cfg.MaxSize),
		done:   make(chan struct{}),
		jobs:   make(map[string]*Job),
	}
}

// Start 啟動 worker，ctx 取消或 Close 後停止取出新任務
func (m *Manager) Start(ctx context.Context, run Runner) {
	for i := 0; i < m.config.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i, run)
	}
}

// Enqueue 將匯入範圍加入隊列
func (m *Manager) Enqueue(rng importer.Range) (*Job, error) {
	select {
	case <-m.done:
		return nil, common.ErrServiceUnavailable.Wrap(fmt.Errorf("queue manager is closed"))
	default:
	}

	job := &Job{
		ID:         common.GenerateUUID(),
		Range:      rng,
		Status:     JobQueued,
		EnqueuedAt: time.Now(),
	}

	m.mu.Lock()
	m.evictLocked(job.EnqueuedAt)
	m.jobs[job.ID] = job
	m.mu.Unlock()

	select {
	case m.queue <- job.ID:
		common.LogInfo("Import job enqueued",
			zap.String("job_id", job.ID),
			zap.Int("from", rng.From),
			zap.Int("to", rng.To),
			zap.Int("queue_length", len(m.queue)),
			zap.Int("max_queue_size", m.config.MaxSize),
		)
		snapshot := *job
		return &snapshot, nil
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, common.ErrQueueFull
	}
}

// Get 取得任務快照
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// GetQueueStatus 獲取隊列狀態
func (m *Manager) GetQueueStatus() *Status {
	return &Status{
		QueueLength:    len(m.queue),
		ProcessedCount: int(atomic.LoadInt64(&m.processed)),
		MaxQueueSize:   m.config.MaxSize,
		Workers:        m.config.Workers,
	}
}

// Close 關閉隊列管理器並等待執行中的任務結束
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *Manager) worker(ctx context.Context, n int, run Runner) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case id := <-m.queue:
			m.runJob(ctx, n, id, run)
		}
	}
}

func (m *Manager) runJob(ctx context.Context, worker int, id string, run Runner) {
	started := time.Now()
	m.update(id, func(j *Job) {
		j.Status = JobRunning
		j.StartedAt = &started
	})
	common.LogInfo("Import job started", zap.String("job_id", id), zap.Int("worker", worker))

	job, _ := m.Get(id)
	report, err := run(ctx, job.Range)

	finished := time.Now()
	m.update(id, func(j *Job) {
		j.Report = report
		j.FinishedAt = &finished
		if err != nil {
			j.Status = JobFailed
			j.Error = err.Error()
		} else {
			j.Status = JobSucceeded
		}
	})
	atomic.AddInt64(&m.processed, 1)

	if err != nil {
		common.LogError("Import job failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	common.LogInfo("Import job finished",
		zap.String("job_id", id),
		zap.Duration("elapsed", finished.Sub(started)),
	)
}

// evictLocked 移除超過保留時間的已完成任務，總數超過上限時再移除最舊的已完成任務
func (m *Manager) evictLocked(now time.Time) {
	var finished []*Job
	for id, j := range m.jobs {
		if j.FinishedAt == nil {
			continue
		}
		if now.Sub(*j.FinishedAt) > m.config.JobRetention {
			delete(m.jobs, id)
			continue
		}
		finished = append(finished, j)
	}

	// 保留一個位置給新任務
	excess := len(m.jobs) + 1 - m.config.MaxJobs
	if excess <= 0 {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].FinishedAt.Before(*finished[j].FinishedAt)
	})
	for _, j := range finished[:min(excess, len(finished))] {
		delete(m.jobs, j.ID)
	}
}

func (m *Manager) update(id string, fn func(j *Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		fn(j)
	}
}
