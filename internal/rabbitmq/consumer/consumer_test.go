package consumer_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mini-maxit/grader/internal/rabbitmq/consumer"
	"github.com/mini-maxit/grader/internal/scheduler"
	"github.com/mini-maxit/grader/pkg/constants"
	pkgerrors "github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/messages"
	"github.com/mini-maxit/grader/tests/mocks"
)

const (
	workerQueue   = "worker_queue_test"
	responseQueue = "response_queue_test"
)

// acknowledger records what happened to a delivery.
type acknowledger struct {
	mu       sync.Mutex
	acks     int
	requeues int
}

func (a *acknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *acknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.requeues++
	}
	return nil
}

func (a *acknowledger) Reject(uint64, bool) error { return nil }

func (a *acknowledger) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.requeues
}

type fixture struct {
	scheduler *mocks.MockScheduler
	responder *mocks.MockResponder
	channel   *mocks.MockChannel
	consumer  consumer.Consumer
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		scheduler: mocks.NewMockScheduler(ctrl),
		responder: mocks.NewMockResponder(ctrl),
		channel:   mocks.NewMockChannel(ctrl),
	}
	f.consumer = consumer.NewConsumer(f.channel, workerQueue, responseQueue, f.scheduler, f.responder)
	return f
}

func delivery(t *testing.T, msgType, id string, payload any, replyTo string) (amqp.Delivery, *acknowledger) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(messages.QueueMessage{Type: msgType, MessageID: id, Payload: raw})
	require.NoError(t, err)
	ack := &acknowledger{}
	return amqp.Delivery{Acknowledger: ack, Body: body, ReplyTo: replyTo}, ack
}

func gradeRequest() messages.GradingRequest {
	return messages.GradingRequest{
		SubmissionID:    "sub-1",
		QuestionCode:    "APB",
		LanguageType:    "CPP",
		LanguageVersion: "17",
		Source:          []byte("int main(){}"),
		TimeLimitMs:     1000,
		TestCases:       []messages.TestCase{{Input: []byte("2 3"), Expected: []byte("5")}},
	}
}

func TestProcessMessage_InvalidJSON(t *testing.T) {
	f := newFixture(t)
	f.responder.EXPECT().PublishErrorToResponseQueue("", "", "reply", pkgerrors.ErrInvalidQueueMessagePayload)

	ack := &acknowledger{}
	f.consumer.ProcessMessage(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("not json"), ReplyTo: "reply"})

	acks, _ := ack.counts()
	assert.Equal(t, 1, acks)
}

func TestProcessMessage_UnknownType(t *testing.T) {
	f := newFixture(t)
	f.responder.EXPECT().PublishErrorToResponseQueue("foo", "mid", "reply", pkgerrors.ErrUnknownMessageType)

	msg, ack := delivery(t, "foo", "mid", nil, "reply")
	f.consumer.ProcessMessage(context.Background(), msg)

	acks, _ := ack.counts()
	assert.Equal(t, 1, acks)
}

func TestProcessMessage_GradeQueuedIsAckedWhenDone(t *testing.T) {
	f := newFixture(t)

	var submitted scheduler.Job
	f.scheduler.EXPECT().Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, job scheduler.Job) (scheduler.Admission, error) {
			submitted = job
			return scheduler.AdmissionQueued, nil
		})

	msg, ack := delivery(t, constants.QueueMessageTypeGrade, "grade-1", gradeRequest(), "")
	f.consumer.ProcessMessage(context.Background(), msg)

	assert.Equal(t, "grade-1", submitted.MessageID)
	assert.Equal(t, responseQueue, submitted.ReplyTo, "missing reply-to falls back to the response queue")
	assert.Equal(t, "sub-1", submitted.Request.SubmissionID)
	assert.Equal(t, []byte("5"), submitted.Request.TestCases[0].Expected)

	acks, requeues := ack.counts()
	assert.Zero(t, acks, "a queued job is acknowledged only when finished")
	assert.Zero(t, requeues)

	submitted.Done(false)
	acks, _ = ack.counts()
	assert.Equal(t, 1, acks)
}

func TestProcessMessage_GradeHandedBackIsRequeued(t *testing.T) {
	f := newFixture(t)
	f.scheduler.EXPECT().Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, job scheduler.Job) (scheduler.Admission, error) {
			job.Done(true)
			return scheduler.AdmissionQueued, nil
		})

	msg, ack := delivery(t, constants.QueueMessageTypeGrade, "grade-1", gradeRequest(), "reply")
	f.consumer.ProcessMessage(context.Background(), msg)

	_, requeues := ack.counts()
	assert.Equal(t, 1, requeues)
}

func TestProcessMessage_GradeAlreadyInProgress(t *testing.T) {
	f := newFixture(t)
	f.scheduler.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(scheduler.AdmissionAlreadyInProgress, nil)
	f.responder.EXPECT().PublishAdmission(constants.QueueMessageTypeGrade, "grade-2", "reply",
		messages.SubmitResponsePayload{SubmissionID: "sub-1", Admission: "already_in_progress"}).Return(nil)

	msg, ack := delivery(t, constants.QueueMessageTypeGrade, "grade-2", gradeRequest(), "reply")
	f.consumer.ProcessMessage(context.Background(), msg)

	acks, _ := ack.counts()
	assert.Equal(t, 1, acks)
}

func TestProcessMessage_GradeInvalidPayload(t *testing.T) {
	f := newFixture(t)
	f.responder.EXPECT().PublishErrorToResponseQueue(constants.QueueMessageTypeGrade, "grade-3", "reply",
		pkgerrors.ErrInvalidQueueMessagePayload)

	msg, ack := delivery(t, constants.QueueMessageTypeGrade, "grade-3", "not an object", "reply")
	f.consumer.ProcessMessage(context.Background(), msg)

	acks, _ := ack.counts()
	assert.Equal(t, 1, acks)
}

func TestProcessMessage_GradeSubmitErrors(t *testing.T) {
	t.Run("rejected request", func(t *testing.T) {
		f := newFixture(t)
		f.scheduler.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(scheduler.Admission(0), pkgerrors.ErrSubmissionIDRequired)
		f.responder.EXPECT().PublishErrorToResponseQueue(constants.QueueMessageTypeGrade, "grade-4", "reply",
			pkgerrors.ErrSubmissionIDRequired)

		msg, ack := delivery(t, constants.QueueMessageTypeGrade, "grade-4", gradeRequest(), "reply")
		f.consumer.ProcessMessage(context.Background(), msg)

		acks, _ := ack.counts()
		assert.Equal(t, 1, acks)
	})

	t.Run("scheduler closed", func(t *testing.T) {
		f := newFixture(t)
		f.scheduler.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(scheduler.Admission(0), pkgerrors.ErrSchedulerClosed)

		msg, ack := delivery(t, constants.QueueMessageTypeGrade, "grade-5", gradeRequest(), "reply")
		f.consumer.ProcessMessage(context.Background(), msg)

		acks, requeues := ack.counts()
		assert.Zero(t, acks)
		assert.Equal(t, 1, requeues)
	})
}

func TestProcessMessage_Status(t *testing.T) {
	f := newFixture(t)
	status := messages.StatusResponsePayload{BusyWorkers: 1, TotalWorkers: 2, WorkerStatus: map[int]string{0: "busy", 1: "idle"}}
	f.scheduler.EXPECT().Status().Return(status)
	f.responder.EXPECT().PublishSuccessStatusRespond(constants.QueueMessageTypeStatus, "status-1", "reply", status).Return(nil)

	msg, ack := delivery(t, constants.QueueMessageTypeStatus, "status-1", nil, "reply")
	f.consumer.ProcessMessage(context.Background(), msg)

	acks, _ := ack.counts()
	assert.Equal(t, 1, acks)
}

func TestProcessMessage_StatusPublishFailure(t *testing.T) {
	f := newFixture(t)
	publishErr := errors.New("channel closed")
	f.scheduler.EXPECT().Status().Return(messages.StatusResponsePayload{})
	f.responder.EXPECT().PublishSuccessStatusRespond(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(publishErr)
	f.responder.EXPECT().PublishErrorToResponseQueue(constants.QueueMessageTypeStatus, "status-2", "reply", publishErr)

	msg, _ := delivery(t, constants.QueueMessageTypeStatus, "status-2", nil, "reply")
	f.consumer.ProcessMessage(context.Background(), msg)
}

func TestProcessMessage_Handshake(t *testing.T) {
	f := newFixture(t)
	f.responder.EXPECT().PublishSuccessHandshakeRespond(constants.QueueMessageTypeHandshake, "hs-1", "reply", gomock.Any()).
		DoAndReturn(func(_, _, _ string, payload messages.ResponseHandshakePayload) error {
			names := make([]string, 0, len(payload.Languages))
			for _, l := range payload.Languages {
				names = append(names, l.LanguageName)
			}
			assert.Equal(t, []string{"C", "CPP", "PYTHON"}, names)
			return nil
		})

	msg, _ := delivery(t, constants.QueueMessageTypeHandshake, "hs-1", nil, "reply")
	f.consumer.ProcessMessage(context.Background(), msg)
}

func TestListen(t *testing.T) {
	t.Run("declare failure", func(t *testing.T) {
		f := newFixture(t)
		declareErr := errors.New("access refused")
		f.channel.EXPECT().QueueDeclare(workerQueue, true, false, false, false, gomock.Nil()).Return(amqp.Queue{}, declareErr)

		assert.ErrorIs(t, f.consumer.Listen(context.Background()), declareErr)
	})

	t.Run("processes deliveries until cancelled", func(t *testing.T) {
		f := newFixture(t)
		deliveries := make(chan amqp.Delivery, 1)
		f.channel.EXPECT().QueueDeclare(workerQueue, true, false, false, false, gomock.Nil()).Return(amqp.Queue{Name: workerQueue}, nil)
		f.channel.EXPECT().Consume(workerQueue, "", false, false, false, false, gomock.Any()).
			Return((<-chan amqp.Delivery)(deliveries), nil)

		handled := make(chan struct{})
		f.scheduler.EXPECT().Status().Return(messages.StatusResponsePayload{})
		f.responder.EXPECT().PublishSuccessStatusRespond(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_, _, _ string, _ messages.StatusResponsePayload) error {
				close(handled)
				return nil
			})

		ctx, cancel := context.WithCancel(context.Background())
		result := make(chan error, 1)
		go func() { result <- f.consumer.Listen(ctx) }()

		msg, _ := delivery(t, constants.QueueMessageTypeStatus, "status-3", nil, "reply")
		deliveries <- msg
		select {
		case <-handled:
		case <-time.After(5 * time.Second):
			t.Fatal("delivery was not processed")
		}

		cancel()
		assert.NoError(t, <-result)
	})

	t.Run("broker closes channel", func(t *testing.T) {
		f := newFixture(t)
		deliveries := make(chan amqp.Delivery)
		close(deliveries)
		f.channel.EXPECT().QueueDeclare(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(amqp.Queue{}, nil)
		f.channel.EXPECT().Consume(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return((<-chan amqp.Delivery)(deliveries), nil)

		assert.ErrorIs(t, f.consumer.Listen(context.Background()), pkgerrors.ErrDeliveryChannelClosed)
	})
}
