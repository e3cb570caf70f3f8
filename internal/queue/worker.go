package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

func (q *Queue) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	return q.publisher.RunCycle(ctx, time.Now(), payload.PostID)
}

func (q *Queue) HandlePublishCycleTask(ctx context.Context, task *asynq.Task) error {
	var payload CyclePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	return q.publisher.RunCycle(ctx, time.Now(), payload.PostID)
}

func (q *Queue) HandleEngagementCycleTask(ctx context.Context, task *asynq.Task) error {
	var payload CyclePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	return q.plugs.RunCycle(ctx, time.Now(), payload.PostID)
}
