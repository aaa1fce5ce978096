package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

// directCredentials is the shape of the stored blob for direct-credentials
// accounts.
type directCredentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
}

// CredentialBroker exchanges stored account data for usable AWS credentials.
// For delegated-role accounts it assumes the role with the shared secret as
// external ID and caches the short-lived result until close to expiry.
type CredentialBroker struct {
	region string

	mu    sync.Mutex
	sts   *sts.Client
	cache map[uint]entity.Credentials
}

// NewCredentialBroker creates a broker that signs delegation exchanges from
// the service's own identity in the given region.
func NewCredentialBroker(region string) *CredentialBroker {
	return &CredentialBroker{
		region: region,
		cache:  make(map[uint]entity.Credentials),
	}
}

// Resolve returns credentials for the account or a classified
// *types.CredentialError whose message callers surface verbatim.
func (b *CredentialBroker) Resolve(ctx context.Context, account entity.CloudAccount) (*entity.Credentials, error) {
	switch account.ConnectionKind {
	case entity.ConnectionDirect:
		return b.resolveDirect(account)
	case entity.ConnectionDelegatedRole:
		return b.resolveDelegated(ctx, account)
	default:
		return nil, types.NewCredentialError(types.ReasonMissingConfiguration,
			"This connection has no recognized credential type. Reconnect the account.", nil)
	}
}

func (b *CredentialBroker) resolveDirect(account entity.CloudAccount) (*entity.Credentials, error) {
	var stored directCredentials
	if err := json.Unmarshal(account.CredentialsJSON, &stored); err != nil {
		return nil, types.NewCredentialError(types.ReasonMissingConfiguration,
			"The stored credentials could not be read. Edit the connection and re-enter your access keys.", err)
	}
	if stored.AccessKey == "" || stored.SecretKey == "" {
		return nil, types.NewCredentialError(types.ReasonMissingConfiguration,
			"This connection is missing its access keys. Edit the connection and re-enter your access keys.", nil)
	}
	region := stored.Region
	if region == "" {
		region = b.region
	}
	return &entity.Credentials{
		AccessKey: stored.AccessKey,
		SecretKey: stored.SecretKey,
		Region:    region,
	}, nil
}

func (b *CredentialBroker) resolveDelegated(ctx context.Context, account entity.CloudAccount) (*entity.Credentials, error) {
	if account.RoleReference == "" || account.SharedSecret == "" {
		return nil, types.NewCredentialError(types.ReasonMissingConfiguration,
			"The delegated role is not fully configured. Reconnect the account to re-establish the trust relationship.", nil)
	}

	b.mu.Lock()
	if cached, ok := b.cache[account.ID]; ok && time.Until(cached.Expiry) > 5*time.Minute {
		b.mu.Unlock()
		return &cached, nil
	}
	b.mu.Unlock()

	client, err := b.stsClient(ctx)
	if err != nil {
		return nil, types.NewCredentialError(types.ReasonUnknown,
			"Could not obtain temporary credentials. Try again later or reconnect the account.", err)
	}

	out, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(account.RoleReference),
		ExternalId:      aws.String(account.SharedSecret),
		RoleSessionName: aws.String(fmt.Sprintf("cost-ingest-%d", account.ID)),
		DurationSeconds: aws.Int32(3600),
	})
	if err != nil {
		return nil, classifyDelegationError(err)
	}

	creds := entity.Credentials{
		AccessKey:    aws.ToString(out.Credentials.AccessKeyId),
		SecretKey:    aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken: aws.ToString(out.Credentials.SessionToken),
		Region:       b.region,
		Expiry:       aws.ToTime(out.Credentials.Expiration),
	}

	b.mu.Lock()
	b.cache[account.ID] = creds
	b.mu.Unlock()

	return &creds, nil
}

func (b *CredentialBroker) stsClient(ctx context.Context) (*sts.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sts != nil {
		return b.sts, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(b.region))
	if err != nil {
		return nil, err
	}
	b.sts = sts.NewFromConfig(cfg)
	return b.sts, nil
}

// classifyDelegationError maps an AssumeRole failure to a credential reason
// with a message the account owner can act on.
func classifyDelegationError(err error) *types.CredentialError {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException":
			return types.NewCredentialError(types.ReasonAccessDenied,
				"The provider rejected the delegated role. Verify the role still exists and trusts this service, then reconnect the account.", err)
		case "InvalidClientTokenId", "SignatureDoesNotMatch", "UnrecognizedClientException":
			return types.NewCredentialError(types.ReasonInvalidCallerIdentity,
				"The delegation caller identity is invalid. Reconnect the account to refresh the trust configuration.", err)
		}
	}
	return types.NewCredentialError(types.ReasonUnknown,
		"Could not obtain temporary credentials. This is usually temporary; if it persists, reconnect the account.", err)
}
