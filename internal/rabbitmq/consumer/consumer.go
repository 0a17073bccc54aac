package consumer

import (
	"context"
	"encoding/json"
	e "errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/internal/rabbitmq/channel"
	"github.com/mini-maxit/grader/internal/rabbitmq/responder"
	"github.com/mini-maxit/grader/internal/scheduler"
	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/languages"
	"github.com/mini-maxit/grader/pkg/messages"
)

type Consumer interface {
	// Listen consumes the worker queue until ctx is done or the broker closes the channel.
	Listen(ctx context.Context) error
	ProcessMessage(ctx context.Context, msg amqp.Delivery)
}

type consumer struct {
	channel           channel.Channel
	workerQueueName   string
	responseQueueName string
	scheduler         scheduler.Scheduler
	responder         responder.Responder
	logger            *zap.SugaredLogger
}

func NewConsumer(
	channel channel.Channel,
	workerQueueName string,
	responseQueueName string,
	scheduler scheduler.Scheduler,
	responder responder.Responder,
) Consumer {
	return &consumer{
		channel:           channel,
		workerQueueName:   workerQueueName,
		responseQueueName: responseQueueName,
		scheduler:         scheduler,
		responder:         responder,
		logger:            logger.NewNamedLogger("consumer"),
	}
}

func (c *consumer) Listen(ctx context.Context) error {
	c.logger.Infof("Declaring queue %s", c.workerQueueName)

	// Plain durable queue: requests are delivered in the order they were published.
	if _, err := c.channel.QueueDeclare(c.workerQueueName, true, false, false, false, nil); err != nil {
		return err
	}

	// Grading requests are acknowledged only once their result was published.
	msgs, err := c.channel.Consume(c.workerQueueName, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.logger.Infof("Listening for messages on queue %s", c.workerQueueName)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stopped listening for messages")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.ErrDeliveryChannelClosed
			}
			c.ProcessMessage(ctx, msg)
		}
	}
}

func (c *consumer) ProcessMessage(ctx context.Context, msg amqp.Delivery) {
	replyTo := msg.ReplyTo
	if replyTo == "" {
		replyTo = c.responseQueueName
	}

	var queueMessage messages.QueueMessage
	if err := json.Unmarshal(msg.Body, &queueMessage); err != nil {
		c.logger.Errorf("Failed to unmarshal message: %s", err)
		c.responder.PublishErrorToResponseQueue("", "", replyTo, errors.ErrInvalidQueueMessagePayload)
		c.ack(msg)
		return
	}

	switch queueMessage.Type {
	case constants.QueueMessageTypeGrade:
		c.logger.Infof("Received grade message: %s", queueMessage.MessageID)
		c.handleGradeMessage(ctx, queueMessage, replyTo, msg)
		return
	case constants.QueueMessageTypeStatus:
		c.logger.Infof("Received status message: %s", queueMessage.MessageID)
		c.handleStatusMessage(queueMessage, replyTo)
	case constants.QueueMessageTypeHandshake:
		c.logger.Infof("Received handshake message: %s", queueMessage.MessageID)
		c.handleHandshakeMessage(queueMessage, replyTo)
	default:
		c.logger.Errorf("Unknown message type: %s", queueMessage.Type)
		c.responder.PublishErrorToResponseQueue(
			queueMessage.Type,
			queueMessage.MessageID,
			replyTo,
			errors.ErrUnknownMessageType)
	}
	c.ack(msg)
}

func (c *consumer) handleGradeMessage(
	ctx context.Context,
	queueMessage messages.QueueMessage,
	replyTo string,
	msg amqp.Delivery,
) {
	var request messages.GradingRequest
	if err := json.Unmarshal(queueMessage.Payload, &request); err != nil {
		c.logger.Errorf("Failed to unmarshal grade message: %s", err)
		c.responder.PublishErrorToResponseQueue(queueMessage.Type, queueMessage.MessageID, replyTo,
			errors.ErrInvalidQueueMessagePayload)
		c.ack(msg)
		return
	}

	job := scheduler.Job{
		MessageID: queueMessage.MessageID,
		ReplyTo:   replyTo,
		Request:   &request,
		Done: func(requeue bool) {
			if requeue {
				c.nack(msg)
				return
			}
			c.ack(msg)
		},
	}

	admission, err := c.scheduler.Submit(ctx, job)
	if err != nil {
		c.logger.Errorf("Failed to submit grade message [MsgID: %s]: %s", queueMessage.MessageID, err)
		if e.Is(err, errors.ErrSchedulerClosed) {
			c.nack(msg)
			return
		}
		c.responder.PublishErrorToResponseQueue(queueMessage.Type, queueMessage.MessageID, replyTo, err)
		c.ack(msg)
		return
	}

	if admission == scheduler.AdmissionAlreadyInProgress {
		c.logger.Infof("Submission already in progress [ID: %s, MsgID: %s]", request.SubmissionID, queueMessage.MessageID)
		err := c.responder.PublishAdmission(queueMessage.Type, queueMessage.MessageID, replyTo,
			messages.SubmitResponsePayload{SubmissionID: request.SubmissionID, Admission: admission.String()})
		if err != nil {
			c.logger.Errorf("Failed to publish admission: %s", err)
		}
		c.ack(msg)
	}
}

func (c *consumer) handleStatusMessage(queueMessage messages.QueueMessage, replyTo string) {
	status := c.scheduler.Status()

	err := c.responder.PublishSuccessStatusRespond(queueMessage.Type, queueMessage.MessageID, replyTo, status)
	if err != nil {
		c.logger.Errorf("Failed to publish status message: %s", err)
		c.responder.PublishErrorToResponseQueue(queueMessage.Type, queueMessage.MessageID, replyTo, err)
	}
}

func (c *consumer) handleHandshakeMessage(queueMessage messages.QueueMessage, replyTo string) {
	supported := languages.GetSupportedLanguagesWithVersions()

	err := c.responder.PublishSuccessHandshakeRespond(queueMessage.Type, queueMessage.MessageID, replyTo, supported)
	if err != nil {
		c.logger.Errorf("Failed to publish supported languages: %s", err)
		c.responder.PublishErrorToResponseQueue(queueMessage.Type, queueMessage.MessageID, replyTo, err)
	}
}

func (c *consumer) ack(msg amqp.Delivery) {
	if msg.Acknowledger == nil {
		return
	}
	if err := msg.Ack(false); err != nil {
		c.logger.Errorf("Failed to ack delivery %d: %s", msg.DeliveryTag, err)
	}
}

func (c *consumer) nack(msg amqp.Delivery) {
	if msg.Acknowledger == nil {
		return
	}
	if err := msg.Nack(false, true); err != nil {
		c.logger.Errorf("Failed to nack delivery %d: %s", msg.DeliveryTag, err)
	}
}
