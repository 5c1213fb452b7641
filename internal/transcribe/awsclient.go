package transcribe

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
)

// NewAWSClient builds the Transcribe client CloudRecognizer runs on, with
// static credentials. endpoint is optional.
func NewAWSClient(ctx context.Context, region, accessKey, secretKey, endpoint string) (*transcribe.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	var opts []func(*transcribe.Options)
	if endpoint != "" {
		opts = append(opts, func(o *transcribe.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return transcribe.NewFromConfig(awsCfg, opts...), nil
}
