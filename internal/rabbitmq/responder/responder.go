package responder

import (
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/internal/rabbitmq/channel"
	"github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/messages"
)

//go:generate mockgen -destination=../../../tests/mocks/mock_responder.go -package=mocks . Responder

type Responder interface {
	PublishErrorToResponseQueue(messageType, messageID, responseQueue string, err error)
	PublishSuccessHandshakeRespond(
		messageType, messageID, responseQueue string,
		payload messages.ResponseHandshakePayload,
	) error
	PublishSuccessStatusRespond(
		messageType, messageID, responseQueue string,
		payload messages.StatusResponsePayload,
	) error
	PublishGradeResult(
		messageType, messageID, responseQueue string,
		result *messages.GradeResponsePayload,
	) error
	PublishGradeFailure(
		messageType, messageID, responseQueue string,
		payload messages.GradeFailurePayload,
	) error
	PublishAdmission(
		messageType, messageID, responseQueue string,
		payload messages.SubmitResponsePayload,
	) error
	// Publish sends a raw message. Calls from many goroutines are serialized onto
	// the channel, which is not safe for concurrent use.
	Publish(queueName string, publishing amqp.Publishing) error
	Close() error
}

type publishRequest struct {
	queue      string
	publishing amqp.Publishing
	result     chan error
}

type responder struct {
	logger    *zap.SugaredLogger
	channel   channel.Channel
	publishCh chan publishRequest

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

func NewResponder(channel channel.Channel, publishChanSize int) Responder {
	if publishChanSize < 1 {
		publishChanSize = 1
	}
	r := &responder{
		logger:    logger.NewNamedLogger("responder"),
		channel:   channel,
		publishCh: make(chan publishRequest, publishChanSize),
		done:      make(chan struct{}),
	}
	go r.publishLoop()
	return r
}

func (r *responder) publishLoop() {
	defer close(r.done)
	for req := range r.publishCh {
		req.result <- r.channel.Publish("", req.queue, false, false, req.publishing)
	}
}

func (r *responder) Publish(queueName string, publishing amqp.Publishing) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return errors.ErrResponderClosed
	}
	result := make(chan error, 1)
	r.publishCh <- publishRequest{queue: queueName, publishing: publishing, result: result}
	r.mu.RUnlock()

	return <-result
}

func (r *responder) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.publishCh)
		r.mu.Unlock()
		<-r.done
	})
	return nil
}

func (r *responder) PublishErrorToResponseQueue(messageType, messageID, responseQueue string, err error) {
	payload, jsonErr := json.Marshal(map[string]string{"error": err.Error()})
	if jsonErr != nil {
		r.logger.Errorf("Failed to marshal error payload: %s", jsonErr)
		return
	}

	if pubErr := r.publishResponse(messageType, messageID, responseQueue, false, payload); pubErr != nil {
		r.logger.Errorf("Failed to publish error message: %s", pubErr)
		return
	}
	r.logger.Infof("Published error message to response queue: %s", messageID)
}

func (r *responder) PublishSuccessHandshakeRespond(
	messageType, messageID, responseQueue string,
	payload messages.ResponseHandshakePayload,
) error {
	return r.publishJSON(messageType, messageID, responseQueue, true, payload)
}

func (r *responder) PublishSuccessStatusRespond(
	messageType, messageID, responseQueue string,
	payload messages.StatusResponsePayload,
) error {
	return r.publishJSON(messageType, messageID, responseQueue, true, payload)
}

func (r *responder) PublishGradeResult(
	messageType, messageID, responseQueue string,
	result *messages.GradeResponsePayload,
) error {
	return r.publishJSON(messageType, messageID, responseQueue, true, result)
}

func (r *responder) PublishGradeFailure(
	messageType, messageID, responseQueue string,
	payload messages.GradeFailurePayload,
) error {
	return r.publishJSON(messageType, messageID, responseQueue, false, payload)
}

func (r *responder) PublishAdmission(
	messageType, messageID, responseQueue string,
	payload messages.SubmitResponsePayload,
) error {
	return r.publishJSON(messageType, messageID, responseQueue, false, payload)
}

func (r *responder) publishJSON(messageType, messageID, responseQueue string, ok bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.publishResponse(messageType, messageID, responseQueue, ok, payload)
}

func (r *responder) publishResponse(messageType, messageID, responseQueue string, ok bool, payload []byte) error {
	responseJSON, err := json.Marshal(messages.ResponseQueueMessage{
		Type:      messageType,
		MessageID: messageID,
		Ok:        ok,
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	r.logger.Debugf("Publishing %s response to %s [MsgID: %s]", messageType, responseQueue, messageID)
	return r.Publish(responseQueue, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: messageID,
		Body:          responseJSON,
	})
}
