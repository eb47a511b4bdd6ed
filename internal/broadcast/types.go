package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"filegate/internal/observability/metrics"
	"filegate/internal/retry"
	rtsup "filegate/internal/runtime/supervisor"
	kit "filegate/internal/transport"
	logx "filegate/pkg/logx"
)

type Mode int

const (
	Plain Mode = iota
	Pinned
	AutoDelete
)

func (m Mode) String() string {
	switch m {
	case Pinned:
		return "pinned"
	case AutoDelete:
		return "auto_delete"
	default:
		return "plain"
	}
}

// Outcome is the per-recipient result of one broadcast.
type Outcome string

const (
	Delivered   Outcome = "delivered"
	Blocked     Outcome = "blocked"
	Deactivated Outcome = "deactivated"
	Failed      Outcome = "failed"
)

// Config controls the engine. Zero values fall back to defaults.
type Config struct {
	// RatePerSec paces outbound contacts across the whole engine.
	RatePerSec int
	// PlainChunk / HeavyChunk are the fan-out chunk sizes (100 / 50).
	PlainChunk int
	HeavyChunk int
	// MaxWait caps one rate-limit backoff (0 = honor the platform hint).
	MaxWait time.Duration
	// Workers is the number of broadcasts that may run at the same time.
	Workers   int
	QueueSize int
}

// Directory is the recipient capability the engine needs.
type Directory interface {
	ListRecipients(ctx context.Context) ([]int64, error)
	RemoveRecipient(ctx context.Context, id int64) error
}

// Messenger is the slice of the transport the engine needs.
type Messenger interface {
	Copy(ctx context.Context, to kit.ChatTarget, from kit.MessageRef, opt *kit.CopyOptions) (kit.MessageRef, error)
	Pin(ctx context.Context, ref kit.MessageRef) error
	Delete(ctx context.Context, ref kit.MessageRef) error
}

// Request describes one broadcast.
type Request struct {
	Name   string
	Source kit.MessageRef
	Mode   Mode
	// AutoDelete is the per-copy lifetime for Mode AutoDelete.
	AutoDelete time.Duration
	// Recipients overrides the directory listing when non-nil.
	Recipients []int64
	// Progress receives cumulative counts after every chunk.
	Progress func(Report)
	// Done receives the final report of a submitted job.
	Done func(Report, error)
}

// Report aggregates a broadcast run.
type Report struct {
	ID          string        `json:"id"`
	Mode        string        `json:"mode"`
	Total       int           `json:"total"`
	Processed   int           `json:"processed"`
	Delivered   int           `json:"delivered"`
	Blocked     int           `json:"blocked"`
	Deactivated int           `json:"deactivated"`
	Failed      int           `json:"failed"`
	Retried     int           `json:"retried"`
	Chunks      int           `json:"chunks"`
	AutoDelete  time.Duration `json:"auto_delete,omitempty"`
	// Empty is set when there was nobody to send to; no chunk was processed.
	Empty      bool      `json:"empty"`
	Aborted    bool      `json:"aborted,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// SuccessRatio is Delivered / Total, 0 for an empty audience.
func (r Report) SuccessRatio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Delivered) / float64(r.Total)
}

func (r *Report) add(o Outcome) {
	r.Processed++
	switch o {
	case Delivered:
		r.Delivered++
	case Blocked:
		r.Blocked++
	case Deactivated:
		r.Deactivated++
	default:
		r.Failed++
	}
}

// JobStatus tracks a submitted broadcast.
type JobStatus struct {
	ID        string
	Name      string
	Mode      Mode
	Running   bool
	Report    Report
	QueuedAt  time.Time
	StartedAt time.Time
	DoneAt    time.Time
}

type job struct {
	id  string
	req Request
}

type Engine struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	dir     Directory
	api     Messenger
	log     logx.Logger
	metrics *metrics.Metrics
	sleep   retry.Sleeper

	queue    chan job
	sup      *rtsup.Supervisor
	timerSup *rtsup.Supervisor
	workerWG sync.WaitGroup

	deletes        sync.WaitGroup
	pendingDeletes atomic.Int64

	statusMu  sync.Mutex
	status    map[string]*JobStatus
	statusMax int
	statusTTL time.Duration
}
