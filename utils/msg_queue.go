package utils

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"

	Logger "github.com/Nexkiv/feedfanout/utils/log"
)

// MessageQueueMessage is one received message plus the metadata needed to
// acknowledge it. A message that is not deleted before the queue's visibility
// timeout expires is redelivered to another worker, which is the pipeline's
// only retry mechanism; handlers must therefore be idempotent.
type MessageQueueMessage struct {
	Message       *string
	MessageId     *string
	ReceivedTimes int
	SentTimeStamp int
	ReceiptHandle string
}

type MessageQueueReader interface {
	ReceiveMessages(maxNumberOfMessages int64) ([]*MessageQueueMessage, error)
	DeleteMessage(msg *MessageQueueMessage) error
}

type MessageQueueWriter interface {
	SendMessage(body string) error
}

func (msg *MessageQueueMessage) Read() (string, error) {
	if msg.Message == nil {
		return "", errors.New("message has no body")
	}
	return *msg.Message, nil
}

type SQSMessageQueue struct {
	readTimeout int64
	queueName   string
	url         string
	client      *sqs.SQS
}

// NewSQSMessageQueue resolves the queue url once and returns a handle that
// serves both the reader and the writer side. The client is passed in
// explicitly so many callers can share one session without a hidden global.
func NewSQSMessageQueue(client *sqs.SQS, queueName string, readTimeout int64) (*SQSMessageQueue, error) {
	if queueName == "" {
		return nil, errors.New("please specify queue name")
	}

	if readTimeout < 0 || readTimeout > 20 {
		return nil, errors.New("readTimeout should be >= 0 and <= 20")
	}

	url, err := client.GetQueueUrl(&sqs.GetQueueUrlInput{
		QueueName: &queueName,
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == sqs.ErrCodeQueueDoesNotExist {
			return nil, fmt.Errorf("unable to find queue %q", queueName)
		}
		return nil, fmt.Errorf("unable to resolve queue %q, %v", queueName, err)
	}

	return &SQSMessageQueue{
		queueName:   queueName,
		url:         *url.QueueUrl,
		readTimeout: readTimeout,
		client:      client,
	}, nil
}

// NewSQSClient initializes an SQS client from the shared AWS config
// (~/.aws/credentials or task role).
func NewSQSClient() *sqs.SQS {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return sqs.New(sess)
}

func (q *SQSMessageQueue) ReceiveMessages(maxNumberOfMessages int64) ([]*MessageQueueMessage, error) {
	if maxNumberOfMessages < 1 || maxNumberOfMessages > 10 {
		return nil, errors.New("maxNumberOfMessages should be >= 1 and <= 10")
	}

	result, err := q.client.ReceiveMessage(&sqs.ReceiveMessageInput{
		QueueUrl: &q.url,
		AttributeNames: aws.StringSlice([]string{
			"SentTimestamp",
			"ApproximateReceiveCount",
		}),
		MaxNumberOfMessages: aws.Int64(maxNumberOfMessages),
		MessageAttributeNames: aws.StringSlice([]string{
			"All",
		}),
		WaitTimeSeconds: &q.readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read %q, error: %v", q.queueName, err)
	}

	res := []*MessageQueueMessage{}
	for _, msg := range result.Messages {
		var count, sentTime int
		if val, ok := msg.Attributes["ApproximateReceiveCount"]; ok {
			count, _ = strconv.Atoi(*val)
		}
		if val, ok := msg.Attributes["SentTimestamp"]; ok {
			sentTime, _ = strconv.Atoi(*val)
		}

		res = append(res, &MessageQueueMessage{
			Message:       msg.Body,
			MessageId:     msg.MessageId,
			ReceivedTimes: count,
			SentTimeStamp: sentTime,
			ReceiptHandle: *msg.ReceiptHandle,
		})
	}

	return res, nil
}

func (q *SQSMessageQueue) DeleteMessage(msg *MessageQueueMessage) error {
	_, err := q.client.DeleteMessage(&sqs.DeleteMessageInput{
		QueueUrl:      &q.url,
		ReceiptHandle: &msg.ReceiptHandle,
	})
	if err != nil {
		Logger.Log.Errorf("fail to delete message from queue %s : %v", q.queueName, err)
		return err
	}
	return nil
}

func (q *SQSMessageQueue) SendMessage(body string) error {
	_, err := q.client.SendMessage(&sqs.SendMessageInput{
		QueueUrl:    &q.url,
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("unable to send to %q, error: %v", q.queueName, err)
	}
	return nil
}
