package pipeline

import (
	"context"
	"errors"
	"sync"

	"secure-rag-go/pkg/log"
	"secure-rag-go/pkg/tasks"
)

// ErrQueueFull 表示进程内队列已满，调用方应稍后重试。
var ErrQueueFull = errors.New("ingest queue is full")

// ErrRunnerStopped 表示 runner 已停止，不再接受任务。
var ErrRunnerStopped = errors.New("ingest runner stopped")

// TaskProcessor 处理一个入库任务。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

// IngestError 是一次异步入库失败的报告。
type IngestError struct {
	DocumentID string
	Err        error
}

func (e IngestError) Error() string { return e.DocumentID + ": " + e.Err.Error() }

func (e IngestError) Unwrap() error { return e.Err }

// AsyncRunner 在进程内的 worker 池中执行入库任务。失败通过 Errors() 上报，
// 与提交任务的调用方解耦。
type AsyncRunner struct {
	processor TaskProcessor
	workers   int
	queue     chan tasks.IngestTask
	errCh     chan IngestError

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewAsyncRunner(processor TaskProcessor, workers, buffer int) *AsyncRunner {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &AsyncRunner{
		processor: processor,
		workers:   workers,
		queue:     make(chan tasks.IngestTask, buffer),
		errCh:     make(chan IngestError, buffer+workers),
	}
}

// Start 启动 worker。ctx 取消时正在执行的任务随之取消。
func (r *AsyncRunner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx, i)
	}
	log.Infof("[AsyncRunner] 已启动 %d 个入库 worker", r.workers)
}

// Dispatch 将任务放入队列，队列满时立即返回 ErrQueueFull。
func (r *AsyncRunner) Dispatch(ctx context.Context, task tasks.IngestTask) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrRunnerStopped
	}
	select {
	case r.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Errors 返回失败报告通道。Stop 后该通道被关闭。
func (r *AsyncRunner) Errors() <-chan IngestError {
	return r.errCh
}

// Stop 停止接收任务，等待队列中的任务处理完毕后关闭 Errors 通道。
func (r *AsyncRunner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	close(r.errCh)
	log.Info("[AsyncRunner] 所有入库 worker 已退出")
}

func (r *AsyncRunner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	for task := range r.queue {
		if err := r.processor.Process(ctx, task); err != nil {
			r.report(IngestError{DocumentID: task.DocumentID, Err: err})
		}
	}
	log.Debugf("[AsyncRunner] worker %d 退出", id)
}

func (r *AsyncRunner) report(e IngestError) {
	select {
	case r.errCh <- e:
	default:
		// 没有消费者时不阻塞 worker
		log.Errorf("[AsyncRunner] 错误通道已满, 入库失败: DocumentID=%s, Error: %v", e.DocumentID, e.Err)
	}
}
