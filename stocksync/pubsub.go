package stocksync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
)

// BatchPubSubPayload is the continuation message body. The batch number is
// informational; the runner always processes the session's durable
// current_batch, so a stale message cannot replay an earlier batch.
type BatchPubSubPayload struct {
	SessionId     uint   `json:"session_id"`
	Batch         int    `json:"batch"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

// PubSubPushEnvelope is the push-delivery wrapper Pub/Sub wraps around the
// payload. Data is base64 in transit; encoding/json decodes it into []byte.
type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PubSubSignaler publishes batch continuations to the sync topic.
type PubSubSignaler struct{}

func (PubSubSignaler) SignalContinue(ctx context.Context, sessionId uint, batch int) error {
	topicName := strings.TrimSpace(os.Getenv("SYNC_BATCH_TOPIC"))
	if topicName == "" {
		topicName = "sync-batch"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if utils.EnvBool("SYNC_BATCH_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	payload := BatchPubSubPayload{
		SessionId:     sessionId,
		Batch:         batch,
		CorrelationId: correlationId,
	}
	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler handles push deliveries from the sync-batch subscription.
// It always returns 204: a processing failure is recorded on the session, and
// a Pub/Sub redelivery would only re-run a batch the conditional advance
// already rejects.
func PubSubPushHandler(syncer *Syncer, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.EnvBool("ENABLE_SYNC_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload BatchPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.SessionId == 0 {
			c.Status(204)
			return
		}

		ctx := c.Request.Context()
		if payload.CorrelationId != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, payload.CorrelationId)
		}

		if _, err := syncer.ProcessNext(ctx); err != nil {
			if IsSessionStateError(err) {
				// Duplicate or late delivery for a session that moved on.
				log.WithFields(logrus.Fields{
					"module":     "stocksync",
					"session_id": payload.SessionId,
					"batch":      payload.Batch,
					"message_id": envelope.Message.ID,
				}).Info("ignoring continuation: " + err.Error())
			} else {
				config.LogError(log, "stocksync", "PubSubPushHandler", "process batch", payload, err)
			}
		}
		c.Status(204)
	}
}
