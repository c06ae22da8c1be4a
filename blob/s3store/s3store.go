// Package s3store implements blob.Backend against an S3-compatible bucket
// via the AWS SDK v2, one of the two cloud object-storage backends the
// repository offers alongside azblob and the embedded localfs/pebble
// backends.
package s3store

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hat-backup/hat/internal/errs"
)

// Backend stores each blob as one object, keyed by the hex encoding of its
// opaque name under an optional key prefix.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// New constructs a Backend for bucket, loading credentials and region from
// the default AWS SDK v2 chain (environment, shared config, IMDS, ...).
func New(ctx context.Context, bucket, prefix, region string) (*Backend, error) {
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "load aws config")
	}
	return &Backend{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (b *Backend) key(name []byte) string {
	return b.prefix + hex.EncodeToString(name)
}

func (b *Backend) Put(ctx context.Context, name []byte, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errs.Wrap(errs.Storage, err, "s3 put %x", name)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, name []byte) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "s3 get %x", name)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "s3 read body %x", name)
	}
	return data, nil
}

func (b *Backend) List(ctx context.Context) ([][]byte, error) {
	var names [][]byte
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(b.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errs.Wrap(errs.Storage, err, "s3 list")
		}
		for _, obj := range out.Contents {
			k := (*obj.Key)[len(b.prefix):]
			name, err := hex.DecodeString(k)
			if err != nil {
				continue
			}
			names = append(names, name)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return names, nil
}
