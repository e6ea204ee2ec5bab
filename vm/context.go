package vm

import (
	"context"
	"sync"
	"time"

	"github.com/wudi/heyvm/registry"
)

// ExecutionContext satisfies registry.ExecutionContextInterface, the
// timeout surface builtins reach through GetExecutionContext. It holds the
// timeout bookkeeping only; globals, the call stack, and output buffers
// live on VM itself, addressed by slot rather than by name.
type ExecutionContext struct {
	mu               sync.Mutex
	ctx              context.Context
	cancel           context.CancelFunc
	maxExecutionTime time.Duration
}

func newExecutionContext() *ExecutionContext {
	ec := &ExecutionContext{}
	ec.ctx, ec.cancel = context.WithCancel(context.Background())
	return ec
}

// SetTimeLimit implements registry.ExecutionContextInterface. seconds <= 0
// means unlimited, matching PHP's set_time_limit(0).
func (ec *ExecutionContext) SetTimeLimit(seconds int) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.cancel != nil {
		ec.cancel()
	}
	if seconds <= 0 {
		ec.maxExecutionTime = 0
		ec.ctx, ec.cancel = context.WithCancel(context.Background())
	} else {
		ec.maxExecutionTime = time.Duration(seconds) * time.Second
		ec.ctx, ec.cancel = context.WithTimeout(context.Background(), ec.maxExecutionTime)
	}
	return true
}

func (ec *ExecutionContext) Done() <-chan struct{} {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.ctx.Done()
}

func (ec *ExecutionContext) Err() error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.ctx.Err()
}

var _ registry.ExecutionContextInterface = (*ExecutionContext)(nil)
