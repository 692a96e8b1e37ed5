package sys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/boot"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/ipc"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/sched"
)

func bootKernel(t *testing.T, totalBytes mem.Size) {
	t.Helper()
	reset()
	t.Cleanup(reset)

	err := Init(Config{
		MemoryMap: []boot.MemoryMapEntry{
			{Base: 0, Length: uint64(totalBytes), Type: boot.Available},
		},
	})
	require.Nil(t, err, "kernel init failed")
}

func TestInitChain(t *testing.T) {
	bootKernel(t, 128*mem.Mb)

	info := GetSystemInfo()
	assert.True(t, info.Initialized)
	assert.EqualValues(t, 128*mem.Mb, info.MemTotal)
	assert.NotZero(t, info.CPUCount)
	assert.True(t, info.MemFree < info.MemTotal, "the kernel address space should have consumed frames")

	// Init is idempotent.
	require.Nil(t, Init(Config{}))
}

func TestOperationsBeforeInit(t *testing.T) {
	reset()
	t.Cleanup(reset)

	_, err := AllocPage()
	assert.Equal(t, ErrNotInitialized, err)
	_, err = CreateTask(func() {}, "early")
	assert.Equal(t, ErrNotInitialized, err)
	assert.Equal(t, sched.PriorityLow, GetPriority(1))
	assert.EqualValues(t, 0, GetUptime())
	assert.False(t, GetSystemInfo().Initialized)
}

func TestMemoryExports(t *testing.T) {
	bootKernel(t, 128*mem.Mb)

	page, err := AllocPage()
	require.Nil(t, err)
	require.NotZero(t, page)
	require.Nil(t, FreePage(page))

	span, err := AllocPages(4)
	require.Nil(t, err)
	require.Nil(t, FreePages(span, 4))

	buf, err := AllocBytes(10 * mem.Kb)
	require.Nil(t, err)
	require.Nil(t, FreeBytes(buf, 10*mem.Kb))

	info := GetSystemInfo()
	assert.True(t, info.MemFree > 0)
}

func TestTaskExports(t *testing.T) {
	bootKernel(t, 128*mem.Mb)

	id, err := CreateTask(func() {}, "worker")
	require.Nil(t, err)

	SetPriority(id, sched.PriorityHigh)
	assert.Equal(t, sched.PriorityHigh, GetPriority(id))
	assert.Equal(t, sched.PriorityLow, GetPriority(9999))

	_, err = CreateTask(nil, "no entry")
	assert.Equal(t, ErrInvalidArgument, err)
}

func TestIPCExports(t *testing.T) {
	bootKernel(t, 128*mem.Mb)

	queue, err := RegisterHandler(func(msg *ipc.Message) {}, "echo")
	require.Nil(t, err)

	require.Nil(t, Send(queue, []byte("ping")))

	buf := make([]byte, 64)
	n, err := Recv(queue, buf)
	require.Nil(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	got, err := Lookup("echo")
	require.Nil(t, err)
	assert.NotNil(t, got)
}

func TestTerminalDriverHooks(t *testing.T) {
	bootKernel(t, 128*mem.Mb)

	assert.Equal(t, ErrInvalidArgument, RegisterTerminalDriver(nil, nil))

	var written []byte
	require.Nil(t, RegisterTerminalDriver(func(text []byte) {
		written = append(written, text...)
	}, func() byte { return 'x' }))

	GetTerminalWrite()([]byte("hello"))
	assert.Equal(t, "hello", string(written))
	assert.EqualValues(t, 'x', GetTerminalRead()())
}

func TestUptimeIsMonotonic(t *testing.T) {
	bootKernel(t, 128*mem.Mb)

	before := GetUptime()
	for i := 0; i < 2000; i++ {
		system.DeliverTick()
	}
	after := GetUptime()

	assert.True(t, after >= before)
	assert.EqualValues(t, 2000, after, "1 kHz ticks should map 2000 ticks to 2000 ms")
}
