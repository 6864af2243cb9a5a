package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent records one bus transaction for post-mortem analysis
type TraceEvent struct {
	Op     byte     // Opcode, 0 for an empty slot
	CS     int8     // Chip select, -1 for broadcast
	Mode   WireMode // Wire mode the opcode was sent in
	Failed bool     // Transaction returned an error
}

const (
	TraceRingSize = 32 // Keep the last 32 transactions
)

var (
	// debugPrintln is the global debug print function (set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Transaction trace ring buffer
	traceRing     [TraceRingSize]TraceEvent
	traceRingHead uint8

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function.
// Firmware points this at the UART, host builds at the logger.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// InitAsyncDebug starts the async debug output goroutine.
// Call this from main() after SetDebugWriter.
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer,
// through the async queue once InitAsyncDebug has run
func DebugPrintln(msg string) {
	if !debugEnabled || debugPrintln == nil {
		return
	}
	if debugChan != nil {
		debugAsync(msg)
		return
	}
	debugPrintln(msg)
}

// debugAsync queues a message, dropping it if the queue is full
func debugAsync(msg string) {
	select {
	case debugChan <- msg:
	default:
	}
}

// recordTrace captures a transaction in the ring buffer
func recordTrace(op byte, cs int, mode WireMode, failed bool) {
	idx := traceRingHead
	traceRing[idx] = TraceEvent{
		Op:     op,
		CS:     int8(cs),
		Mode:   mode,
		Failed: failed,
	}
	traceRingHead = (idx + 1) % TraceRingSize
}

// TraceSnapshot returns the recorded transactions, oldest first
func TraceSnapshot() []TraceEvent {
	out := make([]TraceEvent, 0, TraceRingSize)
	start := traceRingHead
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := traceRing[(start+i)%TraceRingSize]
		if evt.Op == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// DumpTrace writes the trace ring through the debug writer (call after a
// transport failure)
func DumpTrace() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TRACE] === Transaction Dump ===")
	for _, evt := range TraceSnapshot() {
		status := "ok"
		if evt.Failed {
			status = "FAILED"
		}
		debugPrintln("[TRACE] op=0x" + hex8(evt.Op) +
			" cs=" + itoa(int(evt.CS)) +
			" mode=" + evt.Mode.String() +
			" " + status)
	}
	debugPrintln("[TRACE] === End Dump ===")
}

// ClearTrace clears the trace buffer
func ClearTrace() {
	for i := range traceRing {
		traceRing[i] = TraceEvent{}
	}
	traceRingHead = 0
}
