package provider

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/ignite/notify-engine/internal/pkg/logger"
)

// SESProvider delivers email through AWS SES using the SDK v2.
type SESProvider struct {
	name      string
	fromName  string
	fromEmail string
	client    *sesv2.Client
}

// NewSESProvider creates an SES email provider. Initializes the AWS SDK
// client if credentials are provided; with empty credentials the
// default chain (IAM role) is used.
func NewSESProvider(name, accessKey, secretKey, region, fromName, fromEmail string) (*SESProvider, error) {
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("init AWS config: %w", err)
	}

	return &SESProvider{
		name:      name,
		fromName:  fromName,
		fromEmail: fromEmail,
		client:    sesv2.NewFromConfig(cfg),
	}, nil
}

func (s *SESProvider) Name() string    { return s.name }
func (s *SESProvider) Channel() string { return "email" }

// Send delivers a single email through AWS SES.
func (s *SESProvider) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.Address}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("request_id"), Value: aws.String(msg.RequestID)},
			{Name: aws.String("recipient_id"), Value: aws.String(msg.RecipientID)},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		log.Printf("[SES] send to %s failed: %v", logger.RedactEmail(msg.Address), err)
		return &SendResult{Success: false, Provider: s.name, Error: err}, nil
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[SES] sent to %s (id: %s)", logger.RedactEmail(msg.Address), messageID)

	return &SendResult{
		Success:           true,
		Provider:          s.name,
		ProviderMessageID: messageID,
		SentAt:            time.Now(),
	}, nil
}
