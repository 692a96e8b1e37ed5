package ipc

import (
	"bytes"
	"io"
	"log"
	"testing"
	"time"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/boot"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
)

func newTestRouter(t *testing.T) (*Router, *pmm.BuddyAllocator) {
	t.Helper()

	frames := pmm.NewBuddyAllocator()
	frames.SetLogOutput(log.New(io.Discard, "", 0))
	frames.SetMemoryMap([]boot.MemoryMapEntry{
		{Base: 0, Length: uint64(64 * mem.Mb), Type: boot.Available},
	})

	router := NewRouter(frames, nil, nil)
	router.SetLogOutput(log.New(io.Discard, "", 0))
	return router, frames
}

func TestSendRecvFIFOOrder(t *testing.T) {
	router, _ := newTestRouter(t)

	queue, err := router.RegisterService("echo", func(*Message) {})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	for _, payload := range []string{"m1", "m2", "m3"} {
		if err = router.Send(queue, []byte(payload), TypeData, FlagNonBlocking); err != nil {
			t.Fatalf("send %q failed: %v", payload, err)
		}
	}

	buf := make([]byte, MaxMessageSize)
	for _, exp := range []string{"m1", "m2", "m3"} {
		n, msgType, err := router.Recv(queue, buf, 0)
		if err != nil {
			t.Fatalf("recv failed: %v", err)
		}
		if got := string(buf[:n]); got != exp {
			t.Fatalf("expected message %q; got %q", exp, got)
		}
		if msgType != TypeData {
			t.Fatalf("expected message type %d; got %d", TypeData, msgType)
		}
	}
}

func TestSendToFullQueue(t *testing.T) {
	router, _ := newTestRouter(t)

	queue, _ := router.RegisterService("tiny", nil)
	for i := 0; i < DefaultQueueCapacity; i++ {
		if err := router.Send(queue, []byte("x"), TypeData, FlagNonBlocking); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	if err := router.Send(queue, []byte("overflow"), TypeData, FlagNonBlocking); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull; got %v", err)
	}
	if got := queue.Len(); got != DefaultQueueCapacity {
		t.Fatalf("expected the queue to stay at capacity %d; got %d", DefaultQueueCapacity, got)
	}
}

func TestSendPayloadBounds(t *testing.T) {
	router, _ := newTestRouter(t)

	if err := router.Send(nil, bytes.Repeat([]byte{0xaa}, MaxMessageSize), TypeData, FlagNonBlocking); err != nil {
		t.Fatalf("expected a %d byte payload to be accepted; got %v", MaxMessageSize, err)
	}
	if err := router.Send(nil, bytes.Repeat([]byte{0xaa}, MaxMessageSize+1), TypeData, FlagNonBlocking); err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge for %d bytes; got %v", MaxMessageSize+1, err)
	}
}

func TestRecvOnEmptyQueue(t *testing.T) {
	router, _ := newTestRouter(t)
	buf := make([]byte, 64)

	if _, _, err := router.Recv(nil, buf, 0); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty with zero timeout; got %v", err)
	}

	start := time.Now()
	if _, _, err := router.Recv(nil, buf, 20*time.Millisecond); err != ErrTimeout {
		t.Fatalf("expected ErrTimeout; got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("expected the receive to wait out its timeout; returned after %v", elapsed)
	}
}

func TestRecvBufferTooSmall(t *testing.T) {
	router, _ := newTestRouter(t)

	if err := router.Send(nil, []byte("a longer payload"), TypeData, FlagNonBlocking); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if _, _, err := router.Recv(nil, make([]byte, 4), 0); err != ErrBufferTooSmall {
		t.Fatalf("expected ErrBufferTooSmall; got %v", err)
	}

	// The undersized receive must not consume the message.
	n, _, err := router.Recv(nil, make([]byte, 64), 0)
	if err != nil {
		t.Fatalf("expected the message to still be queued; got %v", err)
	}
	if got := n; got != len("a longer payload") {
		t.Fatalf("expected the full payload back; got %d bytes", got)
	}
}

func TestBlockingRecvWokenBySend(t *testing.T) {
	router, _ := newTestRouter(t)
	queue, _ := router.RegisterService("wakeme", nil)

	type result struct {
		payload string
		err     *kernel.Error
	}
	done := make(chan result, 1)

	go func() {
		buf := make([]byte, 64)
		n, _, err := router.Recv(queue, buf, time.Second)
		done <- result{payload: string(buf[:n]), err: err}
	}()

	// Give the receiver a moment to park itself on the waiter list.
	time.Sleep(10 * time.Millisecond)
	if err := router.Send(queue, []byte("wake up"), TypeData, FlagNonBlocking); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("expected the blocked receive to succeed; got %v", got.err)
		}
		if got.payload != "wake up" {
			t.Fatalf("expected payload %q; got %q", "wake up", got.payload)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked receiver was never woken")
	}
}

func TestBlockingSendWokenByRecv(t *testing.T) {
	router, _ := newTestRouter(t)
	queue, _ := router.RegisterService("backpressure", nil)

	for i := 0; i < DefaultQueueCapacity; i++ {
		router.Send(queue, []byte("fill"), TypeData, FlagNonBlocking)
	}

	done := make(chan *kernel.Error, 1)
	go func() {
		done <- router.Send(queue, []byte("blocked"), TypeData, FlagBlocking)
	}()

	time.Sleep(10 * time.Millisecond)
	buf := make([]byte, 64)
	if _, _, err := router.Recv(queue, buf, 0); err != nil {
		t.Fatalf("drain recv failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected the blocked send to complete; got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked sender was never woken")
	}
}

func TestServiceRegistryRoundTrip(t *testing.T) {
	router, _ := newTestRouter(t)

	handlerCalled := false
	handler := func(*Message) { handlerCalled = true }

	if _, err := router.RegisterService("echo", handler); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := router.RegisterService("echo", handler); err != ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered; got %v", err)
	}

	got, err := router.LookupService("echo")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	got(nil)
	if !handlerCalled {
		t.Fatal("expected lookup to return the registered handler")
	}

	if err = router.UnregisterService("echo"); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	if _, err = router.LookupService("echo"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after unregister; got %v", err)
	}
	if err = router.UnregisterService("echo"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for a double unregister; got %v", err)
	}
}

func TestRegistryFull(t *testing.T) {
	router, _ := newTestRouter(t)

	for i := 0; i < MaxServices; i++ {
		name := string(rune('a'+i%26)) + string(rune('0'+i/26))
		if _, err := router.RegisterService(name, nil); err != nil {
			t.Fatalf("register %d failed: %v", i, err)
		}
	}

	if _, err := router.RegisterService("overflow", nil); err != ErrRegistryFull {
		t.Fatalf("expected ErrRegistryFull; got %v", err)
	}
}

func TestUnregisterReleasesMessageFrames(t *testing.T) {
	router, frames := newTestRouter(t)

	freeBefore := frames.FreeFrames()
	queue, _ := router.RegisterService("leaky", nil)
	for i := 0; i < 8; i++ {
		router.Send(queue, []byte("queued"), TypeData, FlagNonBlocking)
	}

	if err := router.UnregisterService("leaky"); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	if got := frames.FreeFrames(); got != freeBefore {
		t.Fatalf("expected unregister to release every message frame; %d free before, %d after", freeBefore, got)
	}
}

func TestBroadcastFanOut(t *testing.T) {
	router, _ := newTestRouter(t)

	// Three services with capacity 1 each.
	for _, name := range []string{"s1", "s2", "s3"} {
		queue, err := router.RegisterService(name, nil)
		if err != nil {
			t.Fatalf("register %s failed: %v", name, err)
		}
		queue.capacity = 1
	}

	if got := router.Broadcast([]byte("x"), TypeSystem); got != 4 {
		t.Fatalf("expected the first broadcast to reach 4 queues; got %d", got)
	}

	// The three service queues are now full; only the system queue takes
	// another message.
	if got := router.Broadcast([]byte("x"), TypeSystem); got != 1 {
		t.Fatalf("expected the second broadcast to reach only the system queue; got %d", got)
	}
}

func TestMessageFrameAccounting(t *testing.T) {
	router, frames := newTestRouter(t)

	freeBefore := frames.FreeFrames()
	if err := router.Send(nil, []byte("charged"), TypeData, FlagNonBlocking); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got := frames.FreeFrames(); got != freeBefore-1 {
		t.Fatalf("expected the in-flight message to hold one frame; %d free before, %d after", freeBefore, got)
	}

	buf := make([]byte, 64)
	if _, _, err := router.Recv(nil, buf, 0); err != nil {
		t.Fatalf("recv failed: %v", err)
	}
	if got := frames.FreeFrames(); got != freeBefore {
		t.Fatalf("expected the frame back after receive; %d free before, %d after", freeBefore, got)
	}
}
