package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/pkg/log"
	"github.com/autopeer-io/updater/pkg/options"
)

// S3 streams an image object from an S3-compatible firmware repository.
type S3 struct {
	client *minio.Client
	bucket string
	object string
}

var _ Source = (*S3)(nil)

// NewS3 creates a source for object in the bucket configured by opts.
func NewS3(opts *options.S3Options, object string, insecureSkipVerify bool) (*S3, error) {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify},
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &S3{client: client, bucket: opts.BucketName, object: object}, nil
}

func (s *S3) Kind() Kind            { return KindS3 }
func (s *S3) RequiresNetwork() bool { return true }

// Open issues the GET and waits for the object metadata, which is when the
// server has actually answered.
func (s *S3) Open(ctx context.Context) (Stream, error) {
	log.Info("About to download firmware", "bucket", s.bucket, "object", s.object)

	obj, err := s.client.GetObject(ctx, s.bucket, s.object, minio.GetObjectOptions{})
	if err != nil {
		return nil, core.OpError(core.KindTransportSetup, core.OpRequest, err)
	}

	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, core.OpError(core.KindTransportSetup, core.OpResponse, err)
	}

	return &stream{ReadCloser: obj, size: info.Size}, nil
}
