package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/john/chatsentiment/internal/metrics"
)

// LatestKey is the object name, under the prefix, that always holds the
// most recently published artifact.
const LatestKey = "latest.json"

// Options configures the S3 publisher
type Options struct {
	Bucket          string
	Region          string
	Prefix          string
	RoleARN         string // IAM role ARN for OIDC authentication
	AccessKeyID     string // Legacy: static credentials
	SecretAccessKey string // Legacy: static credentials
	Endpoint        string // For S3-compatible services
	MaxRetries      int
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher uploads exported model artifacts to S3
type Publisher struct {
	client     objectPutter
	bucket     string
	prefix     string
	maxRetries int
	backoff    func(attempt int) time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
}

// flyTokenRetriever implements stscreds.IdentityTokenRetriever for Fly.io OIDC
type flyTokenRetriever struct {
	socketPath string
	audience   string
}

// GetIdentityToken fetches an OIDC token from Fly.io's Unix socket API
func (f *flyTokenRetriever) GetIdentityToken() ([]byte, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", f.socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}

	reqBody, err := json.Marshal(map[string]string{
		"aud": f.audience,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := client.Post("http://localhost/v1/tokens/oidc", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	token, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	return token, nil
}

// tokenRetriever prefers a projected token file (AWS_WEB_IDENTITY_TOKEN_FILE)
// and falls back to the Fly.io socket.
func tokenRetriever() stscreds.IdentityTokenRetriever {
	if file := os.Getenv("AWS_WEB_IDENTITY_TOKEN_FILE"); file != "" {
		return stscreds.IdentityTokenFile(file)
	}
	return &flyTokenRetriever{
		socketPath: "/.fly/api",
		audience:   "sts.amazonaws.com",
	}
}

// New creates a publisher. A role ARN selects OIDC web identity credentials,
// otherwise the static key pair is used.
func New(ctx context.Context, opts Options, m *metrics.Metrics) (*Publisher, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.RoleARN == "" && opts.AccessKeyID != "" {
		log.Println("WARNING: Using static AWS credentials (deprecated). Migrate to OIDC for better security.")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if opts.RoleARN != "" {
		log.Printf("Using OIDC authentication with role: %s", opts.RoleARN)
		stsClient := sts.NewFromConfig(cfg)
		credProvider := stscreds.NewWebIdentityRoleProvider(stsClient, opts.RoleARN, tokenRetriever())
		cfg.Credentials = aws.NewCredentialsCache(credProvider)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newPublisher(client, opts, m), nil
}

func newPublisher(client objectPutter, opts Options, m *metrics.Metrics) *Publisher {
	return &Publisher{
		client:     client,
		bucket:     opts.Bucket,
		prefix:     opts.Prefix,
		maxRetries: opts.MaxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
		now:     time.Now,
		metrics: m,
	}
}

// Publish uploads an artifact under a dated, versioned key and then
// overwrites the latest key. It returns the versioned key.
func (p *Publisher) Publish(ctx context.Context, data []byte, modelType string) (string, error) {
	key := VersionedKey(p.prefix, modelType, p.now())

	err := p.putWithRetry(ctx, key, data)
	if err == nil {
		err = p.putWithRetry(ctx, path.Join(p.prefix, LatestKey), data)
	}
	p.metrics.ArtifactUploaded(err)
	if err != nil {
		return "", err
	}

	log.Printf("Published artifact to s3://%s/%s", p.bucket, key)
	return key, nil
}

// putWithRetry uploads one object, backing off exponentially between attempts
func (p *Publisher) putWithRetry(ctx context.Context, key string, data []byte) error {
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		if err == nil {
			return nil
		}

		if attempt < p.maxRetries {
			backoff := p.backoff(attempt)
			log.Printf("Upload attempt %d/%d failed for %s: %v. Retrying in %v",
				attempt+1, p.maxRetries, key, err, backoff)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("put object %s after %d attempts: %w", key, p.maxRetries+1, err)
}

// VersionedKey builds the dated object key for an artifact.
// Output: models/2025/12/30/linear_regression-20251230103000.json
func VersionedKey(prefix, modelType string, t time.Time) string {
	t = t.UTC()
	name := fmt.Sprintf("%s-%s.json", modelType, t.Format("20060102150405"))
	return path.Join(prefix, fmt.Sprintf("%04d/%02d/%02d", t.Year(), t.Month(), t.Day()), name)
}
