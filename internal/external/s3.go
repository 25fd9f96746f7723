package external

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"lifeline/internal/types"
)

// S3PutClient abstracts the S3 PutObject operation for testability.
type S3PutClient interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes audit archive batches to an S3 bucket under the Glacier
// Instant Retrieval storage class. The retention job only deletes database
// rows after the corresponding upload succeeds, so a failed put leaves the
// rows in place for the next run.
type S3Archiver struct {
	client S3PutClient
	bucket string
	logger types.Logger
}

// NewS3Archiver creates an archiver targeting the given bucket.
func NewS3Archiver(client S3PutClient, bucket string, logger types.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		logger: logger,
	}
}

// UploadArchive stores one compressed archive batch under the given key.
func (a *S3Archiver) UploadArchive(ctx context.Context, key string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(a.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String("application/gzip"),
		StorageClass: s3types.StorageClassGlacierIr,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStorage,
			fmt.Sprintf("uploading archive %s to bucket %s", key, a.bucket), err)
	}

	a.logger.Info("archive uploaded",
		"bucket", a.bucket,
		"key", key,
		"bytes", len(data),
	)
	return nil
}
