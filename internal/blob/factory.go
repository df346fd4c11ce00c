package blob

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Environment variables read by Open.
const (
	EnvDriver       = "REDUCTION_BLOB_DRIVER"
	EnvFSRoot       = "REDUCTION_BLOB_FS_ROOT"
	EnvS3Bucket     = "REDUCTION_BLOB_S3_BUCKET"
	EnvS3Region     = "REDUCTION_BLOB_S3_REGION"
	EnvS3Endpoint   = "REDUCTION_BLOB_S3_ENDPOINT"
	EnvS3PathStyle  = "REDUCTION_BLOB_S3_PATH_STYLE"
	EnvS3Prefix     = "REDUCTION_BLOB_S3_PREFIX"
	defaultFSRoot   = "./reduction-exports"
	defaultS3Region = "us-east-1"
)

// Open selects a Store implementation using environment variables.
//
//	REDUCTION_BLOB_DRIVER: fs|s3|memory (default fs)
//	REDUCTION_BLOB_FS_ROOT: directory root when driver=fs (default ./reduction-exports)
//	REDUCTION_BLOB_S3_BUCKET: bucket when driver=s3 (required)
//	REDUCTION_BLOB_S3_REGION, REDUCTION_BLOB_S3_ENDPOINT, REDUCTION_BLOB_S3_PATH_STYLE,
//	REDUCTION_BLOB_S3_PREFIX: optional S3 settings
//	AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY: optional static credentials
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv(EnvDriver)
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(strings.ToLower(driver)) {
	case DriverFilesystem:
		root := os.Getenv(EnvFSRoot)
		if root == "" {
			root = defaultFSRoot
		}
		return NewFilesystem(root)
	case DriverS3:
		cfg, err := S3ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		return NewS3(ctx, cfg)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// S3ConfigFromEnv reads the S3 driver settings.
func S3ConfigFromEnv() (S3Config, error) {
	bucket := os.Getenv(EnvS3Bucket)
	if bucket == "" {
		return S3Config{}, fmt.Errorf("%s required for s3 driver", EnvS3Bucket)
	}
	region := os.Getenv(EnvS3Region)
	if region == "" {
		region = defaultS3Region
	}
	return S3Config{
		Bucket:          bucket,
		Region:          region,
		Endpoint:        os.Getenv(EnvS3Endpoint),
		Prefix:          os.Getenv(EnvS3Prefix),
		PathStyle:       strings.EqualFold(os.Getenv(EnvS3PathStyle), "true"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}, nil
}
