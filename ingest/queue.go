// Package ingest 实现文档入库队列: FIFO 排队, 有界并发处理.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/types"
)

// Document 是一份待入库的文档.
type Document struct {
	ID       string
	Name     string
	Content  string
	Metadata map[string]any
}

// Sink 消费入库文档, 通常是向量索引.
type Sink interface {
	Ingest(ctx context.Context, doc Document) error
}

// SinkFunc 把函数适配成 Sink.
type SinkFunc func(ctx context.Context, doc Document) error

func (f SinkFunc) Ingest(ctx context.Context, doc Document) error { return f(ctx, doc) }

// JobState 是入库任务的生命周期状态.
type JobState string

const (
	JobQueued JobState = "queued"
	JobActive JobState = "active"
	JobDone   JobState = "done"
	JobFailed JobState = "failed"
)

// JobView 是任务的对外快照.
type JobView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	State      JobState  `json:"state"`
	Position   int       `json:"position,omitempty"` // 仅排队中有意义, 1 表示队首
	EnqueuedAt time.Time `json:"enqueued_at"`
	Error      string    `json:"error,omitempty"`
}

// QueueStatus 是队列的整体快照.
type QueueStatus struct {
	Queued []JobView `json:"queued"`
	Active []JobView `json:"active"`
	Done   int       `json:"done"`
	Failed int       `json:"failed"`
}

type job struct {
	id         string
	doc        Document
	enqueuedAt time.Time
	state      JobState
	err        error
}

// Queue 按入队顺序处理文档, 并发处理数由槽位数限制.
type Queue struct {
	sink    Sink
	slots   *semaphore.Weighted
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	pending []*job
	active  map[string]*job
	done    int
	failed  int

	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewQueue 创建入库队列并启动调度循环.
func NewQueue(sink Sink, maxConcurrent int, m *metrics.Metrics, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	q := &Queue{
		sink:    sink,
		slots:   semaphore.NewWeighted(int64(maxConcurrent)),
		metrics: m,
		logger:  logger.With(zap.String("component", "ingest_queue")),
		active:  make(map[string]*job),
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	q.wg.Add(1)
	go q.dispatch()
	return q
}

// Enqueue 把文档加入队尾, 返回任务 ID 和排队位置 (1 表示队首).
func (q *Queue) Enqueue(doc Document) (string, int, error) {
	if doc.Content == "" {
		return "", 0, types.NewError(types.ErrInvalidRequest, "文档内容不能为空")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	q.mu.Lock()
	select {
	case <-q.stop:
		q.mu.Unlock()
		return "", 0, types.NewError(types.ErrInternalError, "入库队列已关闭")
	default:
	}
	j := &job{
		id:         doc.ID,
		doc:        doc,
		enqueuedAt: time.Now(),
		state:      JobQueued,
	}
	q.pending = append(q.pending, j)
	position := len(q.pending)
	q.setGauge(len(q.pending))
	q.mu.Unlock()

	q.logger.Info("document enqueued",
		zap.String("id", doc.ID),
		zap.String("name", doc.Name),
		zap.Int("position", position))
	q.wake()
	return doc.ID, position, nil
}

// Status 返回队列快照. 排队任务按 FIFO 顺序带位置.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	status := QueueStatus{Done: q.done, Failed: q.failed}
	for i, j := range q.pending {
		status.Queued = append(status.Queued, JobView{
			ID:         j.id,
			Name:       j.doc.Name,
			State:      JobQueued,
			Position:   i + 1,
			EnqueuedAt: j.enqueuedAt,
		})
	}
	for _, j := range q.active {
		status.Active = append(status.Active, JobView{
			ID:         j.id,
			Name:       j.doc.Name,
			State:      JobActive,
			EnqueuedAt: j.enqueuedAt,
		})
	}
	return status
}

// Wait 阻塞到所有已入队的任务处理完成. 只用于测试和优雅停机.
func (q *Queue) Wait() {
	for {
		q.mu.Lock()
		idle := len(q.pending) == 0 && len(q.active) == 0
		q.mu.Unlock()
		if idle {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Close 停止接收新任务并等调度循环退出. 已经开始的任务继续执行完.
func (q *Queue) Close() {
	q.mu.Lock()
	select {
	case <-q.stop:
		q.mu.Unlock()
		return
	default:
		close(q.stop)
	}
	q.mu.Unlock()
	q.wake()
	q.wg.Wait()
}

// dispatch 是单调度循环: 始终按队头顺序取任务, 先拿到槽位再启动处理,
// 保证开始顺序就是入队顺序.
func (q *Queue) dispatch() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		var next *job
		if len(q.pending) > 0 {
			next = q.pending[0]
		}
		q.mu.Unlock()

		if next == nil {
			select {
			case <-q.notify:
				continue
			case <-q.stop:
				return
			}
		}

		if err := q.slots.Acquire(context.Background(), 1); err != nil {
			return
		}

		q.mu.Lock()
		// 队头在等槽位期间不会变, 只有 dispatch 出队
		q.pending = q.pending[1:]
		next.state = JobActive
		q.active[next.id] = next
		q.setGauge(len(q.pending))
		q.mu.Unlock()

		go q.process(next)
	}
}

func (q *Queue) process(j *job) {
	defer q.slots.Release(1)
	start := time.Now()

	err := q.sink.Ingest(context.Background(), j.doc)

	q.mu.Lock()
	delete(q.active, j.id)
	if err != nil {
		j.state = JobFailed
		j.err = err
		q.failed++
	} else {
		j.state = JobDone
		q.done++
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Error("document ingestion failed",
			zap.String("id", j.id),
			zap.String("name", j.doc.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	q.logger.Info("document ingested",
		zap.String("id", j.id),
		zap.String("name", j.doc.Name),
		zap.Duration("duration", time.Since(start)))
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) setGauge(n int) {
	if q.metrics == nil {
		return
	}
	q.metrics.IngestQueueLength.Set(float64(n))
}
