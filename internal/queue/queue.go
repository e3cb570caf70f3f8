package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// EnqueuePost schedules a single-post publish task to run after delay.
// A zero delay dispatches immediately.
func EnqueuePost(asynqClient *asynq.Client, payload PublishPostPayload, delay time.Duration) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishPost, taskPayload)

	_, err = asynqClient.Enqueue(task, asynq.ProcessIn(delay))
	if err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("publish task scheduled for post %d in %s", payload.PostID, delay))
	return nil
}

// EnqueueCycle dispatches a batch cycle task right away. A non-zero
// PostID narrows the cycle to that post.
func EnqueueCycle(asynqClient *asynq.Client, taskType string, payload CyclePayload) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = asynqClient.Enqueue(asynq.NewTask(taskType, taskPayload))
	return err
}
