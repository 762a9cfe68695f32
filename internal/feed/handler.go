package feed

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/steveyegge/sqldown/internal/sync"
)

// EventData names the change a pass was run for.
type EventData struct {
	Op   string `json:"op"`
	Path string `json:"path,omitempty"`
}

// ReconcileData contains the counts of one pass.
type ReconcileData struct {
	Op       string   `json:"op"`
	Path     string   `json:"path,omitempty"`
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Deleted  int      `json:"deleted"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
	Extended []string `json:"extended,omitempty"`
}

// Handler turns daemon results into feed messages.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new handler connected to a feed server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}
	return &Handler{server: server, logger: logger}
}

// OnResult publishes one pass. It has the signature of daemon.Config.OnResult.
func (h *Handler) OnResult(ev sync.Event, res *sync.Result) {
	now := time.Now()

	if ev.Op != sync.OpRescan {
		h.send(MessageTypeEvent, now, EventData{Op: ev.Op.String(), Path: ev.Path})
	}

	data := ReconcileData{
		Op:       ev.Op.String(),
		Path:     ev.Path,
		Inserted: res.Inserted,
		Updated:  res.Updated,
		Deleted:  res.Deleted,
		Skipped:  res.Skipped,
		Extended: res.Extended,
	}
	for _, err := range res.Errors {
		data.Errors = append(data.Errors, err.Error())
	}
	h.send(MessageTypeReconcile, now, data)
}

func (h *Handler) send(typ MessageType, at time.Time, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: at, Data: data})
}
