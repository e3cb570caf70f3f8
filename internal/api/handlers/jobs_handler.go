package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/plugflow/plugflow/internal/queue"
)

// JobsHandler exposes on-demand pipeline invocations. The cron schedule
// runs the same cycles; these endpoints exist for manual kicks and
// narrowing a run to one post.
type JobsHandler struct {
	AsynqClient *asynq.Client
}

func NewJobsHandler(asynqClient *asynq.Client) *JobsHandler {
	return &JobsHandler{AsynqClient: asynqClient}
}

func (h *JobsHandler) TriggerPublish(c *fiber.Ctx) error {
	postId := c.QueryInt("post_id", 0)

	err := queue.EnqueueCycle(h.AsynqClient, queue.TaskTypePublishCycle, queue.CyclePayload{PostID: int64(postId)})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to enqueue publish cycle",
		})
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *JobsHandler) TriggerEngagement(c *fiber.Ctx) error {
	postId := c.QueryInt("post_id", 0)

	err := queue.EnqueueCycle(h.AsynqClient, queue.TaskTypeEngagementCycle, queue.CyclePayload{PostID: int64(postId)})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to enqueue engagement cycle",
		})
	}

	return c.SendStatus(fiber.StatusAccepted)
}
