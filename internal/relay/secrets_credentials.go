package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerCredentialSource reads provider credentials from secrets
// named "<prefix><provider>" or "<prefix><provider>/<tag>". Each secret is
// a JSON object with token, apnsKey and apnsCert fields.
type SecretsManagerCredentialSource struct {
	client secretsManagerAPI
	prefix string
}

func NewSecretsManagerCredentialSource(ctx context.Context, region, prefix string) (*SecretsManagerCredentialSource, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SecretsManagerCredentialSource{
		client: secretsmanager.NewFromConfig(awsCfg),
		prefix: prefix,
	}, nil
}

func (s *SecretsManagerCredentialSource) LatestCredential(ctx context.Context, provider, tag string) (*CredentialRecord, error) {
	secretID := s.prefix + credentialCacheKey(provider, tag)
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		var missing *types.ResourceNotFoundException
		if errors.As(err, &missing) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential secret %s: %w", secretID, err)
	}
	if result.SecretString == nil || strings.TrimSpace(*result.SecretString) == "" {
		return nil, nil
	}

	var secret struct {
		Token    string `json:"token"`
		APNSKey  string `json:"apnsKey"`
		APNSCert string `json:"apnsCert"`
	}
	if err := json.Unmarshal([]byte(*result.SecretString), &secret); err != nil {
		return nil, fmt.Errorf("failed to parse credential secret %s: %w", secretID, err)
	}
	rec := &CredentialRecord{
		Provider:  provider,
		LookupTag: tag,
		Token:     secret.Token,
		APNSKey:   secret.APNSKey,
		APNSCert:  secret.APNSCert,
	}
	if result.CreatedDate != nil {
		rec.InsertedAt = result.CreatedDate.UTC()
	}
	return rec, nil
}
