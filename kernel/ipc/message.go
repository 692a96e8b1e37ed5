// Package ipc implements the inter-task message passing subsystem: bounded
// per-destination message queues, a named service registry and
// send/receive/broadcast primitives.
package ipc

import (
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
	"github.com/rs/xid"
)

// MaxMessageSize is the largest payload a single message can carry.
const MaxMessageSize = 1024

// Type tags the kind of payload a message carries.
type Type uint32

const (
	// TypeData is an ordinary payload between tasks.
	TypeData Type = 0x01
	// TypeSystem is kernel-originated traffic on the system queue.
	TypeSystem Type = 0x02
	// TypeTerminal is traffic for the terminal driver.
	TypeTerminal Type = 0x03
	// TypeService is traffic addressed to a registered service.
	TypeService Type = 0x04
)

// Flags alter the delivery behavior of a single send or receive.
type Flags uint32

const (
	// FlagBlocking makes a send wait for queue space.
	FlagBlocking Flags = 0x01
	// FlagNonBlocking makes a send fail immediately when the queue is full.
	FlagNonBlocking Flags = 0x02
	// FlagUrgent marks the message as urgent; it does not affect ordering.
	FlagUrgent Flags = 0x04
)

// Message is one unit of IPC traffic. Each message is charged exactly one
// physical frame at send time; the frame is returned when the message is
// received or its queue is destroyed.
type Message struct {
	// ID is a globally unique correlation id stamped at send time.
	ID xid.ID

	// Data is the payload copied in at send time, at most MaxMessageSize
	// bytes.
	Data []byte

	Type  Type
	Flags Flags

	// Sender is the task id of the sending task, or zero when no task
	// context was attached.
	Sender uint32

	// Timestamp is the tick count captured at send time.
	Timestamp uint64

	frame pmm.Frame
	next  *Message
}
