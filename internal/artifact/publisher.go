// Package artifact publishes analysis reports to S3-compatible object
// storage so downstream code generators can fetch them by run ID.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/abramin/kernelscan/internal/store"
)

// Object names written for every published run.
const (
	ReportObject  = "report.json"
	KernelsObject = "kernels.txt"
)

// Config locates the bucket.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Publisher writes run artifacts under <bucket>/<run-id>/.
type Publisher struct {
	client     *minio.Client
	bucketName string
	region     string
	initOnce   sync.Once
	initErr    error
}

// NewPublisher validates cfg and creates the client. No request is made
// until the first upload.
func NewPublisher(cfg Config) (*Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &Publisher{
		client:     client,
		bucketName: bucket,
		region:     region,
	}, nil
}

// Bucket returns the target bucket name.
func (p *Publisher) Bucket() string { return p.bucketName }

func (p *Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucketName)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.initErr = p.client.MakeBucket(ctx, p.bucketName, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Put uploads one object for a run.
func (p *Publisher) Put(ctx context.Context, runID, path, contentType string, content []byte) error {
	runID = strings.TrimSpace(runID)
	path = strings.TrimSpace(path)
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if err := p.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if content == nil {
		content = []byte{}
	}

	_, err := p.client.PutObject(ctx, p.bucketName, objectKey(runID, path), bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// PublishReport uploads report.json and kernels.txt for rep and returns the
// object keys written.
func (p *Publisher) PublishReport(ctx context.Context, rep *store.Report) ([]string, error) {
	runID := string(rep.Run.ID)
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling report: %w", err)
	}

	objects := []struct {
		path, contentType string
		content           []byte
	}{
		{ReportObject, "application/json", data},
		{KernelsObject, "text/plain; charset=utf-8", KernelList(rep)},
	}
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		if err := p.Put(ctx, runID, o.path, o.contentType, o.content); err != nil {
			return keys, fmt.Errorf("uploading %s: %w", o.path, err)
		}
		keys = append(keys, objectKey(runID, o.path))
	}
	return keys, nil
}

// List returns the object paths stored for a run, sorted.
func (p *Publisher) List(ctx context.Context, runID string) ([]string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	if err := p.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	prefix := strings.TrimSuffix(runID, "/") + "/"
	var paths []string
	for obj := range p.client.ListObjects(ctx, p.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key == "" {
			continue
		}
		paths = append(paths, strings.TrimPrefix(obj.Key, prefix))
	}
	sort.Strings(paths)
	return paths, nil
}

// URL returns a presigned download link valid for expiry.
func (p *Publisher) URL(ctx context.Context, runID, path string, expiry time.Duration) (string, error) {
	u, err := p.client.PresignedGetObject(ctx, p.bucketName, objectKey(runID, path), expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// KernelList renders the kernel classes one per line, the format the
// generator reads.
func KernelList(rep *store.Report) []byte {
	var b bytes.Buffer
	for _, k := range rep.Kernels {
		b.WriteString(k)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func objectKey(runID, path string) string {
	normalized := strings.TrimLeft(strings.TrimSpace(path), "/")
	return strings.TrimSpace(runID) + "/" + normalized
}
