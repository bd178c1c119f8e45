package pipeline

import "time"

// EventType names the orchestration events published to UI consumers.
type EventType string

const (
	EventStarted        EventType = "pipeline:started"
	EventStageStarted   EventType = "pipeline:stage-started"
	EventStageCompleted EventType = "pipeline:stage-completed"
	EventCompleted      EventType = "pipeline:completed"
	EventFailed         EventType = "pipeline:failed"
	EventProgress       EventType = "pipeline:progress"
)

// Event is one typed orchestration notification.
type Event struct {
	Type          EventType
	RequestID     string
	BatchID       string
	Stage         string
	StageProgress int // 0-100
	TotalProgress int // 0-100
	Message       string
	ErrorType     string
	Timestamp     time.Time
}

// Emitter receives events. A nil emitter drops them.
type Emitter func(Event)

func (e *Engine) emit(ev Event) {
	if e.emitter == nil {
		return
	}
	ev.Timestamp = time.Now()
	e.emitter(ev)
}

// stage weights drive total progress: ingestion and dedup dominate runtime.
var stageWeights = map[string]int{
	"json_ingestion": 30,
	"frn_matching":   25,
	"deduplication":  30,
	"data_quality":   15,
}

func totalProgress(completedStages []string, currentStage string, stageProgress int) int {
	done := 0
	for _, s := range completedStages {
		done += stageWeights[s]
	}
	done += stageWeights[currentStage] * stageProgress / 100
	if done > 100 {
		done = 100
	}
	return done
}
