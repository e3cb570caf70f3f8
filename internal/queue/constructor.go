package queue

import (
	"github.com/plugflow/plugflow/internal/engine"
)

// Queue bridges asynq task delivery to the publish and auto-plug
// engines. Handlers stay thin; all pipeline logic lives in the engines.
type Queue struct {
	publisher *engine.Publisher
	plugs     *engine.AutoPlugEngine
}

func NewQueue(publisher *engine.Publisher, plugs *engine.AutoPlugEngine) *Queue {
	return &Queue{
		publisher: publisher,
		plugs:     plugs,
	}
}

const (
	// TaskTypePublishPost dispatches a single post at its scheduled
	// time.
	TaskTypePublishPost = "publish:post"

	// TaskTypePublishCycle scans the whole due batch; the cron safety
	// net behind per-post dispatch.
	TaskTypePublishCycle = "cycle:publish"

	// TaskTypeEngagementCycle polls engagement and fires due plugs.
	TaskTypeEngagementCycle = "cycle:engagement"
)

type PublishPostPayload struct {
	PostID int64 `json:"post_id"`
}

type CyclePayload struct {
	PostID int64 `json:"post_id,omitempty"`
}
