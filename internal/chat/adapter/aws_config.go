package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/aelexs/musicroom/internal/domain"
)

// smClient is the narrow consumer-defined interface for Secrets Manager operations.
type smClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ssmClient is the narrow consumer-defined interface for SSM Parameter Store operations.
type ssmClient interface {
	GetParameter(ctx context.Context, params *awsssm.GetParameterInput, optFns ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error)
}

// LoadJWTSecret fetches the shared token verification secret. The secret
// may be stored as a bare string or as a JSON object with a "jwt_secret"
// field, the shape the identity provider's console exports.
func LoadJWTSecret(ctx context.Context, sm smClient, secretID string) (domain.SecretString, error) {
	out, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("fetching JWT secret %q from Secrets Manager: %w", secretID, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("JWT secret %q has no secret string", secretID)
	}

	raw := strings.TrimSpace(*out.SecretString)
	if strings.HasPrefix(raw, "{") {
		var doc struct {
			JWTSecret string `json:"jwt_secret"`
		}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return "", fmt.Errorf("parsing JWT secret %q: %w", secretID, err)
		}
		raw = doc.JWTSecret
	}
	if raw == "" {
		return "", fmt.Errorf("JWT secret %q is empty", secretID)
	}
	return domain.SecretString(raw), nil
}

// LoadBlockedTerms fetches the profanity list from a String or StringList
// parameter. Terms are separated by commas or newlines; blanks are
// skipped. A missing parameter is an error so a typo in the name cannot
// silently disable filtering.
func LoadBlockedTerms(ctx context.Context, ssm ssmClient, name string) ([]string, error) {
	out, err := ssm.GetParameter(ctx, &awsssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching blocked terms %q from SSM: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("SSM parameter %s has no value", name)
	}

	fields := strings.FieldsFunc(*out.Parameter.Value, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := strings.TrimSpace(f); t != "" {
			terms = append(terms, t)
		}
	}
	return terms, nil
}
