package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/session"
)

// S3Options configures a destination backed by S3 multipart uploads. Static
// credentials are optional; without them the default AWS credential chain is
// used.
type S3Options struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

func (so *S3Options) Retrieve(ctx context.Context) (aws.Credentials, error) {
	return aws.Credentials{
		AccessKeyID:     so.AccessKeyID,
		SecretAccessKey: so.SecretAccessKey,
	}, nil
}

// s3API is the slice of the S3 client the transport needs.
type s3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListParts(ctx context.Context, params *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Transport maps a session onto one multipart upload: chunk index i becomes
// part number i+1, the part's ETag is the chunk ID, and finalize assembles
// the object from the session's ordered ETags.
type S3Transport struct {
	client s3API
	Bucket string
	Prefix string
	Region string
}

func NewS3Transport(ctx context.Context, opts S3Options) (*S3Transport, error) {
	var client *s3.Client
	if opts.AccessKeyID != "" {
		options := s3.Options{
			Credentials: &opts,
			Region:      opts.Region,
		}
		if opts.Endpoint != "" {
			options.UsePathStyle = true
			options.BaseEndpoint = &opts.Endpoint
		}
		client = s3.New(options)
	} else {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			// For non-AWS S3 backends
			if opts.Endpoint != "" {
				o.UsePathStyle = true
				o.BaseEndpoint = &opts.Endpoint
			}
		})
	}

	return &S3Transport{
		client: client,
		Bucket: opts.Bucket,
		Prefix: opts.Prefix,
		Region: opts.Region,
	}, nil
}

func (st *S3Transport) key(sess *session.Session) string {
	return path.Join(st.Prefix, sess.ID, sess.FileName)
}

func (st *S3Transport) CreateSession(ctx context.Context, sess *session.Session) error {
	out, err := st.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(st.Bucket),
		Key:      aws.String(st.key(sess)),
		Metadata: sess.Metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload in %s: %w", st.Bucket, err)
	}
	sess.RemoteID = aws.ToString(out.UploadId)
	return nil
}

func (st *S3Transport) UploadChunk(ctx context.Context, sess *session.Session, index int64, r io.Reader, size int64) (string, error) {
	out, err := st.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(st.Bucket),
		Key:           aws.String(st.key(sess)),
		UploadId:      aws.String(sess.RemoteID),
		PartNumber:    aws.Int32(int32(index + 1)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload part %d to %s: %w", index+1, st.Bucket, err)
	}
	return aws.ToString(out.ETag), nil
}

func (st *S3Transport) FinalizeSession(ctx context.Context, sess *session.Session) (*FinalizeResult, error) {
	key := st.key(sess)

	// S3 refuses a multipart upload with zero parts, so an empty file becomes
	// a plain put and the dangling multipart upload is cleaned up.
	if len(sess.UploadedChunks) == 0 {
		if err := st.AbortSession(ctx, sess); err != nil {
			logger.Warn("failed to clean up empty multipart upload", "bucket", st.Bucket, "key", key, "error", err)
		}
		_, err := st.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(st.Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
			Metadata:      sess.Metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to put empty object to %s: %w", st.Bucket, err)
		}
		return &FinalizeResult{ID: key, Location: st.location(key)}, nil
	}

	parts := make([]types.CompletedPart, len(sess.UploadedChunks))
	for i, etag := range sess.UploadedChunks {
		parts[i] = types.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int32(int32(i + 1)),
		}
	}
	out, err := st.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(st.Bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(sess.RemoteID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload in %s: %w", st.Bucket, err)
	}

	result := &FinalizeResult{
		ID:       aws.ToString(out.Key),
		Location: aws.ToString(out.Location),
	}
	if result.ID == "" {
		result.ID = key
	}
	if result.Location == "" {
		result.Location = st.location(key)
	}
	return result, nil
}

func (st *S3Transport) location(key string) string {
	region := st.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", st.Bucket, region, key)
}

// ReceivedChunks counts the contiguous prefix of parts the bucket holds.
// Parts land strictly in order, so a gap only appears past the last chunk the
// client saw acknowledged.
func (st *S3Transport) ReceivedChunks(ctx context.Context, sess *session.Session) (int64, error) {
	var count int64
	var marker *string
	for {
		out, err := st.client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(st.Bucket),
			Key:              aws.String(st.key(sess)),
			UploadId:         aws.String(sess.RemoteID),
			PartNumberMarker: marker,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to list parts in %s: %w", st.Bucket, err)
		}
		for _, p := range out.Parts {
			if int64(aws.ToInt32(p.PartNumber)) != count+1 {
				return count, nil
			}
			count++
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		marker = out.NextPartNumberMarker
	}
	return count, nil
}

func (st *S3Transport) AbortSession(ctx context.Context, sess *session.Session) error {
	_, err := st.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(st.Bucket),
		Key:      aws.String(st.key(sess)),
		UploadId: aws.String(sess.RemoteID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload in %s: %w", st.Bucket, err)
	}
	return nil
}

func (st *S3Transport) Health(ctx context.Context) (rsp models.ServiceHealthResp) {
	rsp.Service = "S3 destination " + st.Bucket
	rsp.Status = models.STATUS_UP

	_, err := st.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(st.Bucket),
	})
	if err != nil {
		rsp.Status = models.STATUS_DOWN
		rsp.HealthIssue = err.Error()
	}
	return rsp
}
