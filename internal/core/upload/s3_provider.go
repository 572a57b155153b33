package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Provider implements file storage on AWS S3
type S3Provider struct {
	client     *s3.Client
	bucketName string
	region     string
	baseURL    string // Base URL for accessing files (e.g., CloudFront)
}

// NewS3Provider creates a new AWS S3 provider. Empty keys fall back to the
// default credential chain.
func NewS3Provider(ctx context.Context, accessKeyID, secretAccessKey, region, bucketName string) (*S3Provider, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("S3_BUCKET is empty")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Provider{
		client:     s3.NewFromConfig(cfg),
		bucketName: bucketName,
		region:     region,
		baseURL:    fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucketName, region),
	}, nil
}

// Upload uploads a file to AWS S3
func (p *S3Provider) Upload(ctx context.Context, file io.Reader, filename string, options *UploadOptions) (*UploadResult, error) {
	options = MergeOptions(options)

	finalFilename := storedName(filename, options)
	ext := extOf(finalFilename)
	key := strings.Trim(options.Folder+"/"+finalFilename, "/")

	contentType := options.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(ext)
	}
	if err := checkAllowed(options, contentType); err != nil {
		return nil, err
	}

	if !options.Overwrite {
		_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(p.bucketName),
			Key:    aws.String(key),
		})
		if err == nil {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, key)
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if options.MaxSize > 0 && int64(len(data)) > options.MaxSize {
		return nil, fmt.Errorf("file size exceeds maximum allowed size: %d bytes", options.MaxSize)
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	publicURL := p.GetURL(key)
	return &UploadResult{
		URL:          publicURL,
		SecureURL:    publicURL,
		FileName:     finalFilename,
		Size:         int64(len(data)),
		Format:       strings.TrimPrefix(ext, "."),
		ResourceType: resourceTypeFor(ext),
		PublicID:     key,
	}, nil
}

// Open streams an object back from S3
func (p *S3Provider) Open(ctx context.Context, publicID string) (io.ReadCloser, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucketName),
		Key:    aws.String(publicID),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, publicID)
		}
		return nil, fmt.Errorf("failed to read from S3: %w", err)
	}
	return out.Body, nil
}

// GetURL gets the public URL for a file from S3
func (p *S3Provider) GetURL(publicID string) string {
	return fmt.Sprintf("%s/%s", p.baseURL, publicID)
}

// GetProviderName returns the provider name
func (p *S3Provider) GetProviderName() string {
	return "AWS S3"
}
