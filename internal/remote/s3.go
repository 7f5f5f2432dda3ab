package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/openmined/remotesync/internal/watchdog"
)

// S3Client uploads objects into a bucket under the target prefix.
type S3Client struct {
	target *Target
	opts   Options

	mu     sync.Mutex
	client *s3.Client
}

func NewS3Client(target *Target, opts Options) *S3Client {
	return &S3Client{
		target: target,
		opts:   opts.withDefaults(),
	}
}

func (c *S3Client) Test(ctx context.Context) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.target.Host),
	})
	if err != nil {
		return fmt.Errorf("s3 head bucket %s: %w", c.target.Host, err)
	}
	return nil
}

func (c *S3Client) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := checkLocal(localPath); err != nil {
		return err
	}

	client, err := c.connect(ctx)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	key := c.objectKey(remotePath)
	err = watchdog.Run(ctx, c.opts.WatchdogTimeout, func(ctx context.Context, hb *watchdog.Heartbeat) error {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.target.Host),
			Key:           aws.String(key),
			Body:          watchdog.ReadSeeker(f, hb),
			ContentLength: aws.Int64(info.Size()),
		})
		return err
	})
	if errors.Is(err, watchdog.ErrTimeout) {
		c.Close()
	}
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func (c *S3Client) GetFileInfo(ctx context.Context, remotePath string) (*FileInfo, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	key := c.objectKey(remotePath)
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.target.Host),
		Key:    aws.String(key),
	})
	if isObjectMissing(err) {
		return missingFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("s3 head %s: %w", key, err)
	}

	info := &FileInfo{Exists: true, ModTime: out.LastModified}
	if out.ContentLength != nil {
		size := aws.ToInt64(out.ContentLength)
		info.Size = &size
	}
	return info, nil
}

// Close drops the client; the http transport keeps no state worth closing
func (c *S3Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = nil
	return nil
}

func (c *S3Client) connect(ctx context.Context) (*s3.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	var loadOpts []func(*config.LoadOptions) error
	if c.opts.S3.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(c.opts.S3.Region))
	}
	if c.target.User != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.target.User, c.target.Password, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}

	endpoint := c.opts.S3.Endpoint
	c.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return c.client, nil
}

func (c *S3Client) objectKey(remotePath string) string {
	return strings.TrimPrefix(path.Join(c.target.Dir, remotePath), "/")
}

func isObjectMissing(err error) bool {
	if err == nil {
		return false
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
