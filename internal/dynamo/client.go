// Package dynamo provides the shared AWS configuration loader and the
// DynamoDB client factory. Only this package imports the DynamoDB SDK;
// adapters use the re-exported types and helpers defined here.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/aelexs/musicroom/internal/domain"
)

// Config holds DynamoDB connection parameters.
type Config struct {
	// Endpoint overrides the default AWS endpoint.
	// Set to a LocalStack URL (e.g. "http://localhost:4566") for local development.
	Endpoint string

	// Region is the AWS region for the DynamoDB client (e.g. "us-east-2").
	Region string

	// Timeout is the HTTP client timeout for DynamoDB requests.
	Timeout time.Duration
}

// Client wraps the AWS DynamoDB SDK client.
type Client struct {
	// DB is the underlying AWS DynamoDB SDK client.
	DB *dynamodb.Client
}

// LoadAWSConfig resolves the shared AWS configuration for cfg. A
// non-empty cfg.Endpoint switches to static test credentials for
// LocalStack. Other AWS clients of the service are built from the result.
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.Endpoint != "" {
		opts = append(opts,
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("test", "test", ""),
			),
		)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}

	if cfg.Timeout > 0 {
		awsCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return awsCfg, nil
}

// NewClient creates a DynamoDB client configured from cfg.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewClientFromConfig(awsCfg, cfg.Endpoint), nil
}

// NewClientFromConfig creates a DynamoDB client from an already loaded
// AWS configuration. A non-empty endpoint sets BaseEndpoint.
func NewClientFromConfig(awsCfg aws.Config, endpoint string) *Client {
	var dbOpts []func(*dynamodb.Options)
	if endpoint != "" {
		dbOpts = append(dbOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	return &Client{
		DB: dynamodb.NewFromConfig(awsCfg, dbOpts...),
	}
}

// ---------------------------------------------------------------------------
// Type aliases
// ---------------------------------------------------------------------------

// Operation types used by the message store.
type (
	PutItemInput  = dynamodb.PutItemInput
	PutItemOutput = dynamodb.PutItemOutput
	QueryInput    = dynamodb.QueryInput
	QueryOutput   = dynamodb.QueryOutput
)

// Attribute value types.
type (
	AttributeValue        = types.AttributeValue
	AttributeValueMemberS = types.AttributeValueMemberS
	AttributeValueMemberN = types.AttributeValueMemberN
)

// Options is the DynamoDB client options type, re-exported so
// adapter-defined interfaces can name the optFns variadic parameter.
type Options = dynamodb.Options

// ---------------------------------------------------------------------------
// Helper re-exports
// ---------------------------------------------------------------------------

// Int32 returns a pointer to an int32 value.
var Int32 = aws.Int32

// Bool returns a pointer to a bool value.
var Bool = aws.Bool

// MarshalMap serializes a Go value into a DynamoDB attribute value map.
var MarshalMap = attributevalue.MarshalMap

// UnmarshalListOfMaps deserializes query results into a slice of Go values.
var UnmarshalListOfMaps = attributevalue.UnmarshalListOfMaps

// Expression is a built set of DynamoDB expressions and their
// placeholder maps.
type Expression = expression.Expression

// PutIfAbsent builds a condition expression that fails a PutItem when an
// item with the same key attribute already exists.
func PutIfAbsent(keyAttr string) (Expression, error) {
	cond := expression.AttributeNotExists(expression.Name(keyAttr))
	return expression.NewBuilder().WithCondition(cond).Build()
}

// KeyEquals builds a key condition expression matching partition key
// attr equal to value.
func KeyEquals(attr, value string) (Expression, error) {
	kc := expression.Key(attr).Equal(expression.Value(value))
	return expression.NewBuilder().WithKeyCondition(kc).Build()
}

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

// IsConditionalCheckFailed reports whether err is a DynamoDB
// ConditionalCheckFailedException.
func IsConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// ErrConditionalCheckFailed returns a ConditionalCheckFailedException for
// tests. DynamoDB is the only real source of this error.
func ErrConditionalCheckFailed() error {
	return &types.ConditionalCheckFailedException{
		Message: aws.String("The conditional request failed"),
	}
}

// transientCodes are API error codes a later attempt may not hit.
var transientCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"TransactionConflictException":           true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
}

// Classify wraps err with the domain sentinel matching its API error
// code, so callers and the retry classifier can use errors.Is. Unknown
// errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsConditionalCheckFailed(err) {
		return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	code := apiErr.ErrorCode()
	switch {
	case transientCodes[code]:
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	case code == "ResourceNotFoundException":
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case code == "AccessDeniedException" || code == "UnrecognizedClientException":
		return fmt.Errorf("%w: %w", domain.ErrForbidden, err)
	case apiErr.ErrorFault() == smithy.FaultServer:
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	return err
}
