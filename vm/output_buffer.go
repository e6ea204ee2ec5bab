package vm

import (
	"bytes"
	"io"
	"sync"

	"github.com/wudi/heyvm/values"
)

// outputBuffer is a single nesting level of ob_start()'s buffer stack.
type outputBuffer struct {
	buffer    *bytes.Buffer
	name      string
	flags     int
	chunkSize int
	handler   string
	level     int
}

// OutputBufferStack implements registry.OutputBufferStackInterface, the
// echo/print destination every running function writes through. There is
// no HTTPContext/headers-sent bookkeeping here; this VM has no HTTP
// server scaffolding.
type OutputBufferStack struct {
	mu            sync.Mutex
	buffers       []*outputBuffer
	baseWriter    io.Writer
	implicitFlush bool
}

// NewOutputBufferStack wraps base, the writer used once every buffer level
// has been flushed away.
func NewOutputBufferStack(base io.Writer) *OutputBufferStack {
	return &OutputBufferStack{baseWriter: base}
}

func (obs *OutputBufferStack) Start(handler string, chunkSize int, flags int) bool {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	obs.buffers = append(obs.buffers, &outputBuffer{
		buffer:    &bytes.Buffer{},
		name:      "default output handler",
		flags:     flags,
		chunkSize: chunkSize,
		handler:   handler,
		level:     len(obs.buffers),
	})
	return true
}

func (obs *OutputBufferStack) GetContents() string {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.buffers) == 0 {
		return ""
	}
	return obs.buffers[len(obs.buffers)-1].buffer.String()
}

func (obs *OutputBufferStack) GetLength() int {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.buffers) == 0 {
		return 0
	}
	return obs.buffers[len(obs.buffers)-1].buffer.Len()
}

func (obs *OutputBufferStack) GetLevel() int {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	return len(obs.buffers)
}

func (obs *OutputBufferStack) Clean() bool {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.buffers) == 0 {
		return false
	}
	obs.buffers[len(obs.buffers)-1].buffer.Reset()
	return true
}

func (obs *OutputBufferStack) EndClean() bool {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.buffers) == 0 {
		return false
	}
	obs.buffers = obs.buffers[:len(obs.buffers)-1]
	return true
}

func (obs *OutputBufferStack) Flush() bool {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.buffers) == 0 {
		return false
	}
	active := obs.buffers[len(obs.buffers)-1]
	content := active.buffer.Bytes()
	if len(obs.buffers) > 1 {
		obs.buffers[len(obs.buffers)-2].buffer.Write(content)
	} else {
		obs.baseWriter.Write(content)
	}
	active.buffer.Reset()
	return true
}

func (obs *OutputBufferStack) EndFlush() bool {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.buffers) == 0 {
		return false
	}
	active := obs.buffers[len(obs.buffers)-1]
	content := active.buffer.Bytes()
	obs.buffers = obs.buffers[:len(obs.buffers)-1]
	if len(obs.buffers) > 0 {
		obs.buffers[len(obs.buffers)-1].buffer.Write(content)
	} else {
		obs.baseWriter.Write(content)
	}
	return true
}

func (obs *OutputBufferStack) GetClean() (string, bool) {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.buffers) == 0 {
		return "", false
	}
	content := obs.buffers[len(obs.buffers)-1].buffer.String()
	obs.buffers = obs.buffers[:len(obs.buffers)-1]
	return content, true
}

func (obs *OutputBufferStack) GetFlush() (string, bool) {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.buffers) == 0 {
		return "", false
	}
	active := obs.buffers[len(obs.buffers)-1]
	content := active.buffer.String()
	obs.buffers = obs.buffers[:len(obs.buffers)-1]
	if len(obs.buffers) > 0 {
		obs.buffers[len(obs.buffers)-1].buffer.Write([]byte(content))
	} else {
		obs.baseWriter.Write([]byte(content))
	}
	return content, true
}

func statusOf(b *outputBuffer) *values.Value {
	status := values.NewArray()
	status.ArraySet(values.NewString("name"), values.NewString(b.name))
	status.ArraySet(values.NewString("type"), values.NewInt(0))
	status.ArraySet(values.NewString("flags"), values.NewInt(int64(b.flags)))
	status.ArraySet(values.NewString("level"), values.NewInt(int64(b.level)))
	status.ArraySet(values.NewString("chunk_size"), values.NewInt(int64(b.chunkSize)))
	status.ArraySet(values.NewString("buffer_size"), values.NewInt(int64(b.buffer.Len())))
	status.ArraySet(values.NewString("buffer_used"), values.NewInt(int64(b.buffer.Len())))
	return status
}

func (obs *OutputBufferStack) GetStatus() *values.Value {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.buffers) == 0 {
		return values.NewArray()
	}
	return statusOf(obs.buffers[len(obs.buffers)-1])
}

func (obs *OutputBufferStack) GetStatusFull() *values.Value {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	result := values.NewArray()
	for _, b := range obs.buffers {
		result.ArrayAppend(statusOf(b))
	}
	return result
}

func (obs *OutputBufferStack) ListHandlers() []string {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	handlers := make([]string, 0, len(obs.buffers))
	for _, b := range obs.buffers {
		if b.handler != "" {
			handlers = append(handlers, b.handler)
		} else {
			handlers = append(handlers, "default output handler")
		}
	}
	return handlers
}

func (obs *OutputBufferStack) SetImplicitFlush(on bool) {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	obs.implicitFlush = on
}

// Write implements io.Writer, the path WriteOutput funnels every echo/print
// through so ob_start() transparently intercepts it.
func (obs *OutputBufferStack) Write(p []byte) (int, error) {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.buffers) > 0 {
		return obs.buffers[len(obs.buffers)-1].buffer.Write(p)
	}
	return obs.baseWriter.Write(p)
}

func (obs *OutputBufferStack) FlushSystem() {
	if f, ok := obs.baseWriter.(interface{ Flush() }); ok {
		f.Flush()
	}
}
