// Package s3reader implements a [zipfile.Reader] on top of ranged S3 GetObject calls, so a ZIP archive in S3 can
// be listed and streamed without downloading the whole object.
package s3reader

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nguyengg/zipfile"
)

// Client abstracts the S3 APIs needed to implement the reader.
type Client interface {
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Options customises New and NewWithSize.
type Options struct {
	// CtxFn returns a context.Context to be used with every GetObject or HeadObject call.
	//
	// By default, context.Background is used.
	CtxFn func() context.Context

	// ModifyGetObjectInput can be used to modify the GetObject input parameters such as adding
	// ExpectedBucketOwner.
	//
	// Its return value will be used to make the GetObject call.
	ModifyGetObjectInput func(*s3.GetObjectInput) *s3.GetObjectInput

	// ModifyHeadObjectInput can be used to modify the HeadObject input parameters such as adding
	// ExpectedBucketOwner.
	//
	// Its return value will be used to make the HeadObject call. This value is only used by New.
	ModifyHeadObjectInput func(*s3.HeadObjectInput) *s3.HeadObjectInput

	logger progressLogger
}

// New returns a Reader over the given bucket and key along with the object's size, which is determined with a
// HeadObject call.
func New(client Client, bucket, key string, optFns ...func(*Options)) (*Reader, int64, error) {
	opts := newOptions(optFns)

	headObjectOutput, err := client.HeadObject(opts.CtxFn(), opts.ModifyHeadObjectInput(&s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}))
	if err != nil {
		return nil, 0, fmt.Errorf("determine object size error: %w", err)
	}

	size := aws.ToInt64(headObjectOutput.ContentLength)
	return newReader(client, bucket, key, size, opts), size, nil
}

// NewWithSize returns a Reader over the given bucket and key whose object size is already known, skipping the
// HeadObject call.
func NewWithSize(client Client, bucket, key string, size int64, optFns ...func(*Options)) *Reader {
	return newReader(client, bucket, key, size, newOptions(optFns))
}

func newOptions(optFns []func(*Options)) *Options {
	opts := &Options{
		CtxFn: context.Background,
		ModifyGetObjectInput: func(input *s3.GetObjectInput) *s3.GetObjectInput {
			return input
		},
		ModifyHeadObjectInput: func(input *s3.HeadObjectInput) *s3.HeadObjectInput {
			return input
		},
		logger: noopLogger{},
	}
	for _, fn := range optFns {
		fn(opts)
	}

	return opts
}

func newReader(client Client, bucket, key string, size int64, opts *Options) *Reader {
	return &Reader{
		client:               client,
		bucket:               bucket,
		key:                  key,
		size:                 size,
		ctxFn:                opts.CtxFn,
		modifyGetObjectInput: opts.ModifyGetObjectInput,
		logger:               opts.logger,
	}
}

// Reader is a [zipfile.Reader] that reads byte ranges of one S3 object on demand.
//
// Reader is safe for concurrent use; each ReadAt and each OpenRange stream is its own ranged GetObject.
type Reader struct {
	client               Client
	bucket, key          string
	size                 int64
	ctxFn                func() context.Context
	modifyGetObjectInput func(*s3.GetObjectInput) *s3.GetObjectInput
	logger               progressLogger

	mu      sync.Mutex
	reads   int
	streams int
	closed  bool
}

var _ zipfile.Reader = (*Reader)(nil)

// Size returns the object's size in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

func (r *Reader) Open() error {
	return nil
}

func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, zipfile.ErrClosed
	}
	r.reads++
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.reads--
		r.mu.Unlock()
	}()

	body, err := r.getRange(off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := io.ReadFull(body, p)
	r.logger.add(int64(n))
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, fmt.Errorf("read %d bytes at offset %d, wanted %d: %w", n, off, len(p), zipfile.ErrUnexpectedEOF)
	}

	return n, err
}

func (r *Reader) OpenRange(off, length int64) (io.ReadCloser, error) {
	if length == 0 {
		return io.NopCloser(&emptyReader{}), nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, zipfile.ErrClosed
	}
	r.streams++
	r.mu.Unlock()

	body, err := r.getRange(off, length)
	if err != nil {
		r.endStream()
		return nil, err
	}

	return &objectStream{r: r, body: body, remaining: length}, nil
}

// Close marks the reader closed. In-flight ReadAt calls get one chance to drain; outstanding streams stay readable
// until closed themselves since each carries its own response body.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}

	if r.reads > 0 {
		r.mu.Unlock()
		runtime.Gosched()
		r.mu.Lock()
		if r.reads > 0 {
			r.mu.Unlock()
			return zipfile.ErrReadInProgress
		}
	}

	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *Reader) getRange(off, length int64) (io.ReadCloser, error) {
	getObjectOutput, err := r.client.GetObject(r.ctxFn(), r.modifyGetObjectInput(&s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+length-1)),
	}))
	if err != nil {
		return nil, fmt.Errorf("ranged GetObject error: %w", err)
	}

	return getObjectOutput.Body, nil
}

func (r *Reader) endStream() {
	r.mu.Lock()
	r.streams--
	r.mu.Unlock()
}

type emptyReader struct{}

func (*emptyReader) Read([]byte) (int, error) {
	return 0, io.EOF
}

// objectStream delivers exactly remaining bytes of one ranged GetObject body.
type objectStream struct {
	r         *Reader
	body      io.ReadCloser
	remaining int64
	closed    bool
}

func (s *objectStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, zipfile.ErrClosed
	}

	if s.remaining == 0 {
		return 0, io.EOF
	}

	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}

	n, err := s.body.Read(p)
	if n > 0 {
		s.remaining -= int64(n)
		s.r.logger.add(int64(n))
	}

	if err == io.EOF && s.remaining > 0 {
		return n, fmt.Errorf("stream ended %d bytes early: %w", s.remaining, zipfile.ErrUnexpectedEOF)
	}
	if err == io.EOF {
		return n, nil
	}

	return n, err
}

// Close releases the underlying response body. It never affects other streams or the reader itself.
func (s *objectStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.r.endStream()
	return s.body.Close()
}
