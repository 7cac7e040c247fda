package internal

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nguyengg/zipfile"
	"github.com/nguyengg/zipfile/s3reader"
)

// OpenArchive opens either a local file or an s3://bucket/key URI as a ZIP archive.
//
// S3 archives are read with ranged GetObject calls, so listing a huge remote archive only ever downloads its
// central directory.
func OpenArchive(ctx context.Context, name string, optFns ...func(*zipfile.Options)) (*zipfile.Archive, error) {
	bucket, key, ok := ParseS3URI(name)
	if !ok {
		return zipfile.Open(name, optFns...)
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config error: %w", err)
	}

	r, size, err := s3reader.New(s3.NewFromConfig(cfg), bucket, key, func(opts *s3reader.Options) {
		opts.CtxFn = func() context.Context { return ctx }
	})
	if err != nil {
		return nil, err
	}

	return zipfile.OpenReader(r, size, optFns...)
}

// ParseS3URI splits an s3://bucket/key URI; ok is false for anything else.
func ParseS3URI(name string) (bucket, key string, ok bool) {
	after, found := strings.CutPrefix(name, "s3://")
	if !found {
		return "", "", false
	}

	bucket, key, found = strings.Cut(after, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}

	return bucket, key, true
}
