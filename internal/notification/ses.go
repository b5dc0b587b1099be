package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/at-ishikawa/langner-review/internal/config"
)

var errNoEmail = errors.New("user has no email address")

// sesClient is the subset of *sesv2.Client used by SESDispatcher.
type sesClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESDispatcher emails notifications through Amazon SES.
type SESDispatcher struct {
	client sesClient
	from   string
}

// NewSESDispatcher loads AWS configuration for cfg and creates an SESDispatcher.
func NewSESDispatcher(ctx context.Context, cfg config.SESConfig) (*SESDispatcher, error) {
	var awsCfgOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		awsCfgOpts = append(awsCfgOpts, awsconfig.WithRegion(cfg.Region))
	}

	switch cfg.AuthType {
	case "static_credentials":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("ses auth_type is static_credentials but access_key_id or secret_access_key is missing")
		}
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		awsCfgOpts = append(awsCfgOpts, awsconfig.WithCredentialsProvider(creds))
	case "", "iam_role":
		// the default credential chain finds the role
	default:
		slog.Default().Warn("unknown SES auth type, using the default credential chain", "authType", cfg.AuthType)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsCfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("awsconfig.LoadDefaultConfig() > %w", err)
	}
	return &SESDispatcher{
		client: sesv2.NewFromConfig(awsCfg),
		from:   cfg.From,
	}, nil
}

func (d *SESDispatcher) Dispatch(ctx context.Context, msg Message) error {
	if msg.Email == "" {
		return errNoEmail
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(d.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.Email},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Title),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(msg.Body),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
	if _, err := d.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses.SendEmail() > %w", err)
	}
	slog.Default().Debug("notification email sent", "userId", msg.UserID, "type", msg.Type)
	return nil
}
