package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bcmdataexports"
	exportTypes "github.com/aws/aws-sdk-go-v2/service/bcmdataexports/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
)

// curQuery selects the line-item columns the ingestion engine consumes.
const curQuery = "SELECT line_item_line_item_type, line_item_unblended_cost, " +
	"line_item_usage_start_date, product_servicecode FROM COST_AND_USAGE_REPORT"

// accessStackPrefix names the CloudFormation stack that granted this service
// read access to the export destination during account connection.
const accessStackPrefix = "cost-ingest-export-access-"

// Exporter provisions and tears down bulk cost exports in the connected
// account. Provision is safe to re-run after a partial failure: every step
// checks for or tolerates existing state.
type Exporter struct {
	logger *zap.Logger
}

// NewExporter creates the export provisioner.
func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{logger: logger}
}

func exporterConfig(creds *entity.Credentials, region string) aws.Config {
	return aws.Config{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.AccessKey, creds.SecretKey, creds.SessionToken),
	}
}

// Provision ensures the destination bucket exists with the policy the billing
// service needs, then creates the export definition if it is not already
// there.
func (e *Exporter) Provision(ctx context.Context, creds *entity.Credentials, spec entity.ExportSpec) error {
	cfg := exporterConfig(creds, spec.Region)
	s3Client := s3.NewFromConfig(cfg)

	if err := e.ensureBucket(ctx, s3Client, spec); err != nil {
		return err
	}
	if err := e.configureBucket(ctx, s3Client, spec); err != nil {
		return err
	}
	return e.ensureExport(ctx, bcmdataexports.NewFromConfig(cfg), spec)
}

func (e *Exporter) ensureBucket(ctx context.Context, client *s3.Client, spec entity.ExportSpec) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(spec.Bucket)})
	if err == nil {
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(spec.Bucket)}
	// us-east-1 rejects an explicit location constraint.
	if spec.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3Types.CreateBucketConfiguration{
			LocationConstraint: s3Types.BucketLocationConstraint(spec.Region),
		}
	}
	if _, err := client.CreateBucket(ctx, input); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return fmt.Errorf("create export bucket %s: %w", spec.Bucket, err)
	}
	e.logger.Info("created export bucket",
		zap.String("bucket", spec.Bucket), zap.String("region", spec.Region))
	return nil
}

// configureBucket applies the billing-service policy, default encryption, a
// retention lifecycle, and identifying tags. The policy write is
// unconditional so re-provisioning repairs a policy someone removed.
func (e *Exporter) configureBucket(ctx context.Context, client *s3.Client, spec entity.ExportSpec) error {
	policy := fmt.Sprintf(`{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Sid": "EnableAWSDataExportsToWriteToS3AndCheckPolicy",
      "Effect": "Allow",
      "Principal": {
        "Service": ["bcm-data-exports.amazonaws.com", "billingreports.amazonaws.com"]
      },
      "Action": ["s3:PutObject", "s3:GetBucketPolicy"],
      "Resource": ["arn:aws:s3:::%[1]s", "arn:aws:s3:::%[1]s/*"],
      "Condition": {
        "StringLike": {
          "aws:SourceAccount": "%[2]s"
        }
      }
    }
  ]
}`, spec.Bucket, spec.OwnerAccountID)

	if _, err := client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(spec.Bucket),
		Policy: aws.String(policy),
	}); err != nil {
		return fmt.Errorf("put export bucket policy: %w", err)
	}

	if _, err := client.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: aws.String(spec.Bucket),
		ServerSideEncryptionConfiguration: &s3Types.ServerSideEncryptionConfiguration{
			Rules: []s3Types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: &s3Types.ServerSideEncryptionByDefault{
					SSEAlgorithm: s3Types.ServerSideEncryptionAes256,
				},
			}},
		},
	}); err != nil {
		return fmt.Errorf("put export bucket encryption: %w", err)
	}

	if _, err := client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(spec.Bucket),
		LifecycleConfiguration: &s3Types.BucketLifecycleConfiguration{
			Rules: []s3Types.LifecycleRule{{
				ID:     aws.String("expire-old-export-files"),
				Status: s3Types.ExpirationStatusEnabled,
				Filter: &s3Types.LifecycleRuleFilter{Prefix: aws.String(spec.Prefix)},
				Expiration: &s3Types.LifecycleExpiration{
					Days: aws.Int32(95),
				},
			}},
		},
	}); err != nil {
		return fmt.Errorf("put export bucket lifecycle: %w", err)
	}

	if _, err := client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket: aws.String(spec.Bucket),
		Tagging: &s3Types.Tagging{
			TagSet: []s3Types.Tag{
				{Key: aws.String("managed-by"), Value: aws.String("cost-ingest")},
				{Key: aws.String("export-name"), Value: aws.String(spec.Name)},
			},
		},
	}); err != nil {
		return fmt.Errorf("tag export bucket: %w", err)
	}
	return nil
}

// ensureExport creates the daily parquet export unless one with the same
// name already exists.
func (e *Exporter) ensureExport(ctx context.Context, client *bcmdataexports.Client, spec entity.ExportSpec) error {
	existing, err := client.ListExports(ctx, &bcmdataexports.ListExportsInput{})
	if err != nil {
		return fmt.Errorf("list exports: %w", err)
	}
	for _, ref := range existing.Exports {
		if aws.ToString(ref.ExportName) == spec.Name {
			e.logger.Info("export definition already exists, reusing",
				zap.String("export", spec.Name))
			return nil
		}
	}

	_, err = client.CreateExport(ctx, &bcmdataexports.CreateExportInput{
		Export: &exportTypes.Export{
			Name: aws.String(spec.Name),
			DataQuery: &exportTypes.DataQuery{
				QueryStatement: aws.String(curQuery),
				TableConfigurations: map[string]map[string]string{
					"COST_AND_USAGE_REPORT": {
						"TIME_GRANULARITY":                      "DAILY",
						"INCLUDE_RESOURCES":                     "FALSE",
						"INCLUDE_MANUAL_DISCOUNT_COMPATIBILITY": "FALSE",
						"INCLUDE_SPLIT_COST_ALLOCATION_DATA":    "FALSE",
					},
				},
			},
			DestinationConfigurations: &exportTypes.DestinationConfigurations{
				S3Destination: &exportTypes.S3Destination{
					S3Bucket: aws.String(spec.Bucket),
					S3Prefix: aws.String(strings.TrimSuffix(spec.Prefix, "/")),
					S3Region: aws.String(spec.Region),
					S3OutputConfigurations: &exportTypes.S3OutputConfigurations{
						Format:      exportTypes.FormatOptionParquet,
						Compression: exportTypes.CompressionOptionParquet,
						OutputType:  exportTypes.S3OutputTypeCustom,
						Overwrite:   exportTypes.OverwriteOptionOverwriteReport,
					},
				},
			},
			RefreshCadence: &exportTypes.RefreshCadence{
				Frequency: exportTypes.FrequencyOptionSynchronous,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create export %s: %w", spec.Name, err)
	}
	e.logger.Info("created export definition", zap.String("export", spec.Name))
	return nil
}

// Teardown removes the export definition and the access stack. The bucket and
// its data are left in place; every step runs even when a prior one fails.
func (e *Exporter) Teardown(ctx context.Context, creds *entity.Credentials, cfg entity.ExportConfig) entity.TeardownReport {
	awsCfg := exporterConfig(creds, cfg.Region)
	var report entity.TeardownReport

	report.Steps = append(report.Steps, entity.TeardownStep{
		Name: "delete-export-definition",
		Err:  e.deleteExport(ctx, bcmdataexports.NewFromConfig(awsCfg), cfg.ExportName),
	})

	report.Steps = append(report.Steps, entity.TeardownStep{
		Name: "delete-access-stack",
		Err:  e.deleteAccessStack(ctx, cloudformation.NewFromConfig(awsCfg), cfg.ExportName),
	})

	return report
}

func (e *Exporter) deleteExport(ctx context.Context, client *bcmdataexports.Client, name string) error {
	existing, err := client.ListExports(ctx, &bcmdataexports.ListExportsInput{})
	if err != nil {
		return fmt.Errorf("list exports: %w", err)
	}
	for _, ref := range existing.Exports {
		if aws.ToString(ref.ExportName) != name {
			continue
		}
		if _, err := client.DeleteExport(ctx, &bcmdataexports.DeleteExportInput{
			ExportArn: ref.ExportArn,
		}); err != nil {
			return fmt.Errorf("delete export %s: %w", name, err)
		}
		e.logger.Info("deleted export definition", zap.String("export", name))
		return nil
	}
	// Already gone, nothing to do.
	return nil
}

func (e *Exporter) deleteAccessStack(ctx context.Context, client *cloudformation.Client, exportName string) error {
	stackName := accessStackPrefix + exportName
	if _, err := client.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(stackName),
	}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationError" {
			// Stack never existed or was already deleted.
			return nil
		}
		return fmt.Errorf("delete access stack %s: %w", stackName, err)
	}
	e.logger.Info("requested access stack deletion", zap.String("stack", stackName))
	return nil
}
