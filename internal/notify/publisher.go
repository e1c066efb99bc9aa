package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"careloop/worker-compliance/verification-engine/internal/verification"
)

// Publisher is the narrow alert-delivery transport. The engine only hands
// alerts over; rendering, routing, and retries beyond this hop belong to
// the downstream notification platform.
type Publisher interface {
	Publish(ctx context.Context, alert *verification.VerificationAlert) error
}

// SNSAPI is the slice of the SNS client the topic publisher uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SESAPI is the slice of the SES client the email publisher uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SNSPublisher fans alerts out to a topic consumed by the notification
// platform.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
}

func NewSNSPublisher(client SNSAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

func (p *SNSPublisher) Publish(ctx context.Context, alert *verification.VerificationAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(string(alert.Type)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"alert_type": {DataType: aws.String("String"), StringValue: aws.String(string(alert.Type))},
		},
	})
	return err
}

// EmailPublisher sends alerts straight to the compliance inbox. Used in
// environments without the SNS-backed notification platform.
type EmailPublisher struct {
	client SESAPI
	from   string
	to     string
}

func NewEmailPublisher(client SESAPI, from, to string) *EmailPublisher {
	return &EmailPublisher{client: client, from: from, to: to}
}

func (p *EmailPublisher) Publish(ctx context.Context, alert *verification.VerificationAlert) error {
	subject := fmt.Sprintf("[%s] worker %s", alert.Type, alert.WorkerID)
	_, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.from),
		Destination:      &sestypes.Destination{ToAddresses: []string{p.to}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(alert.Message)},
				},
			},
		},
	})
	return err
}
