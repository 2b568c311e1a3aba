package notify

import (
	"context"
	"strings"
	"sync"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/interfaces"
)

// LogNotifier writes outbound messages to the log. Delivery to the recipients is
// left to whatever tails it
type LogNotifier struct {
	log interfaces.ILogger
}

func NewLogNotifier(log interfaces.ILogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, msg contract.Message) {
	n.log.Infow(string(msg.Kind),
		"contractID", msg.ContractID,
		"status", msg.Status,
		"recipients", strings.Join(msg.Recipients, ","),
		"reason", msg.Reason,
		"actor", msg.Actor,
		"at", msg.At,
	)
}

// Recorder keeps every message it receives
type Recorder struct {
	mu       sync.Mutex
	messages []contract.Message
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(ctx context.Context, msg contract.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *Recorder) Messages() []contract.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contract.Message(nil), r.messages...)
}

func (r *Recorder) Kinds() []contract.MessageKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]contract.MessageKind, len(r.messages))
	for i, m := range r.messages {
		kinds[i] = m.Kind
	}
	return kinds
}
