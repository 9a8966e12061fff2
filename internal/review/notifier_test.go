package review

import (
	"context"
	"errors"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sns.PublishOutput), args.Error(1)
}

func TestNotifier_Notify(t *testing.T) {
	pub := new(MockPublisher)
	n := NewNotifier(pub, "arn:aws:sns:eu-west-3:123456789012:reply-review")

	item := createTestItem("C-7")
	item.ID = "review-1"

	pub.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return awssdk.ToString(in.TopicArn) == "arn:aws:sns:eu-west-3:123456789012:reply-review" &&
			awssdk.ToString(in.Subject) == "Reply for case C-7 needs review" &&
			awssdk.ToString(in.MessageAttributes["caseId"].StringValue) == "C-7" &&
			awssdk.ToString(in.MessageAttributes["primaryState"].StringValue) == "deadline_missed"
	})).Return(&sns.PublishOutput{MessageId: awssdk.String("msg-1")}, nil).Once()

	id, err := n.Notify(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	in := pub.Calls[0].Arguments.Get(1).(*sns.PublishInput)
	assert.Contains(t, awssdk.ToString(in.Message), "Review id: review-1")
	assert.Contains(t, awssdk.ToString(in.Message), "unallowed_amount: amount not allowed")
	pub.AssertExpectations(t)
}

func TestNotifier_TruncatesSubject(t *testing.T) {
	pub := new(MockPublisher)
	n := NewNotifier(pub, "arn:topic")

	item := createTestItem("C-0123456789012345678901234567890123456789012345678901234567890123456789012345678901234567890123456789")
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return len(awssdk.ToString(in.Subject)) == maxSubject
	})).Return(&sns.PublishOutput{MessageId: awssdk.String("msg-2")}, nil).Once()

	_, err := n.Notify(context.Background(), item)
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestNotifier_PublishError(t *testing.T) {
	pub := new(MockPublisher)
	n := NewNotifier(pub, "arn:topic")

	pub.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

	_, err := n.Notify(context.Background(), createTestItem("C-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
