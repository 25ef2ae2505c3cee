package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

// minPartSize is the S3 minimum part size, 5 MiB.
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter on the client's bucket.
type Writer struct {
	client   *s3.Client
	bucket   string
	uploader *manager.Uploader
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client:   c.S3(),
		bucket:   c.Bucket(),
		uploader: manager.NewUploader(c.S3()),
	}
}

// Put uploads data with a single PutObject request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	}

	_, err := w.client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// PutMultipart uploads data through the transfer manager in parts of
// partSize bytes, clamped to the S3 minimum.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(jsonlContentType),
	}
	_, err := w.uploader.Upload(ctx, input, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}
