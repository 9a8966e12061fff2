package review

import (
	"context"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	awsclient "support-reply-workers/internal/common/aws"
)

// maxSubject is the SNS subject limit.
const maxSubject = 100

// Notifier alerts reviewers that a draft is waiting.
type Notifier struct {
	publisher awsclient.Publisher
	topicARN  string
}

func NewNotifier(publisher awsclient.Publisher, topicARN string) *Notifier {
	return &Notifier{publisher: publisher, topicARN: topicARN}
}

// Notify publishes a short alert and returns the SNS message id.
func (n *Notifier) Notify(ctx context.Context, item Item) (string, error) {
	subject := fmt.Sprintf("Reply for case %s needs review", item.CaseID)
	if len(subject) > maxSubject {
		subject = subject[:maxSubject]
	}

	kinds := make([]string, 0, len(item.Diagnostics))
	for _, d := range item.Diagnostics {
		kinds = append(kinds, d.Kind+": "+d.Message)
	}
	message := fmt.Sprintf("Case %s (%s) was held back.\nReview id: %s\n\n%s",
		item.CaseID, item.PrimaryState, item.ID, strings.Join(kinds, "\n"))

	out, err := n.publisher.Publish(ctx, &sns.PublishInput{
		TopicArn: awssdk.String(n.topicARN),
		Subject:  awssdk.String(subject),
		Message:  awssdk.String(message),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"caseId":       {DataType: awssdk.String("String"), StringValue: awssdk.String(item.CaseID)},
			"primaryState": {DataType: awssdk.String("String"), StringValue: awssdk.String(item.PrimaryState)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("publish review alert: %w", err)
	}
	return awssdk.ToString(out.MessageId), nil
}
