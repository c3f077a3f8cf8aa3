package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/service/sending"
)

// sesAPI is the subset of the SES v2 client we call.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetEmailIdentity(ctx context.Context, in *sesv2.GetEmailIdentityInput, optFns ...func(*sesv2.Options)) (*sesv2.GetEmailIdentityOutput, error)
}

// SES sends through AWS SES v2.
type SES struct {
	client           sesAPI
	configurationSet string
	log              *logger.Entry
}

// SESConfig holds the SES credentials. Empty keys fall back to the default
// AWS credential chain only when UseDefaultChain is set.
type SESConfig struct {
	AccessKey        string
	SecretKey        string
	Region           string
	ConfigurationSet string
	UseDefaultChain  bool
}

// NewSES creates an SES provider. When no credentials are available the
// provider is still returned, and every call fails with
// sending.ErrProviderNotConfigured.
func NewSES(ctx context.Context, cfg SESConfig) *SES {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	p := &SES{configurationSet: cfg.ConfigurationSet, log: logger.With("component", "ses")}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	switch {
	case cfg.AccessKey != "" && cfg.SecretKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	case !cfg.UseDefaultChain:
		return p
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		p.log.Warn("failed to initialize AWS config", "error", err)
		return p
	}
	p.client = sesv2.NewFromConfig(awsCfg)
	return p
}

// newSESWithClient is used by tests.
func newSESWithClient(client sesAPI) *SES {
	return &SES{client: client, log: logger.With("component", "ses")}
}

// Send delivers one message.
func (s *SES) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.client == nil {
		return nil, fmt.Errorf("%w: SES credentials missing", sending.ErrProviderNotConfigured)
	}

	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	for _, k := range []string{"tenantId", "campaignId", "contactId"} {
		if v := msg.Metadata[k]; v != "" {
			input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String(k), Value: aws.String(tagValue(v))})
		}
	}
	if msg.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, classifySESError(err)
	}
	id := aws.ToString(out.MessageId)
	s.log.Debug("sent", "email", msg.Email, "message_id", id)
	return &domain.SendResult{MessageID: id, Provider: domain.ProviderSES, SentAt: time.Now()}, nil
}

// VerifySender checks that the from-address's domain is a verified SES
// identity.
func (s *SES) VerifySender(ctx context.Context, fromEmail string) (bool, error) {
	if s.client == nil {
		return false, fmt.Errorf("%w: SES credentials missing", sending.ErrProviderNotConfigured)
	}
	d, err := sending.SenderDomain(fromEmail)
	if err != nil {
		return false, nil
	}
	out, err := s.client.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{EmailIdentity: aws.String(d)})
	if err != nil {
		var nf *types.NotFoundException
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("get email identity: %w", err)
	}
	return out.VerifiedForSendingStatus, nil
}

func classifySESError(err error) error {
	var (
		notVerified *types.MailFromDomainNotVerifiedException
		suspended   *types.AccountSuspendedException
		paused      *types.SendingPausedException
	)
	switch {
	case errors.As(err, &notVerified):
		return fmt.Errorf("%w: %v", sending.ErrSenderNotVerified, err)
	case errors.As(err, &suspended), errors.As(err, &paused):
		return fmt.Errorf("%w: %v", sending.ErrProviderNotConfigured, err)
	default:
		return &sending.TransportError{Provider: "ses", Err: err}
	}
}

// tagValue keeps only the characters SES accepts in message tags.
func tagValue(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, v)
}
