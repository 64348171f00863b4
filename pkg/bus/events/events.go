package events

import (
	"time"

	"github.com/eida/wfcc/pkg/consistency/model"
)

const (
	TopicPhase    = "event.phase"
	TopicProgress = "event.progress"
	TopicFile     = "event.file"
)

// Phase names a stage of a consistency run.
type Phase string

const (
	PhaseIndexing Phase = "indexing"
	PhaseScanning Phase = "scanning"
	PhasePersist  Phase = "persisting"
)

// PhaseView is published when a phase starts and when it ends.
type PhaseView struct {
	Phase Phase
	Done  bool
	At    time.Time
}

// ProgressView is published periodically while the archive is classified.
type ProgressView struct {
	Classified  int
	BytesHashed int64
}

// FileView is published for every archive file that lands in at least one
// result table.
type FileView struct {
	Path   string
	Tables []model.Table
}
