package persistence

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/tlong-ds/thelearninghouse/internal/domain/entity"
)

type Uploader struct {
	s3Uploader *s3manager.Uploader
	bucket     string
	region     string
}

func NewUploader(sess *session.Session, bucket, region string) *Uploader {
	return &Uploader{s3manager.NewUploader(sess), bucket, region}
}

// Initiates a multipart upload and return an upload ID from remote AWS S3 storage.
func (u *Uploader) CreateMultipart(ctx context.Context, key, contentType string) (string, error) {
	out, err := u.s3Uploader.S3.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
		Bucket:             aws.String(u.bucket),
		Key:                aws.String(key),
		ContentType:        aws.String(contentType),
		ACL:                aws.String(s3.ObjectCannedACLPublicRead),
		ContentDisposition: aws.String("inline"),
	})
	if err != nil {
		return "", err
	}
	return *out.UploadId, nil
}

// Generate a presigned URL for uploading a single part directly to AWS S3.
func (u *Uploader) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int64, expiry time.Duration) (string, error) {
	req, _ := u.s3Uploader.S3.UploadPartRequest(&s3.UploadPartInput{
		Bucket:     aws.String(u.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int64(partNumber),
	})
	req.SetContext(ctx)
	return req.Presign(expiry)
}

// Upload a file part to remote AWS S3 storage on behalf of the client.
func (u *Uploader) UploadPart(ctx context.Context, key, uploadID string, body []byte, length, partNumber int64) (*entity.Part, error) {
	out, err := u.s3Uploader.S3.UploadPartWithContext(ctx, &s3.UploadPartInput{
		Body:          bytes.NewReader(body),
		Bucket:        aws.String(u.bucket),
		ContentLength: aws.Int64(length),
		Key:           aws.String(key),
		PartNumber:    aws.Int64(partNumber),
		UploadId:      aws.String(uploadID),
	})
	if err != nil {
		return nil, err
	}
	return &entity.Part{ETag: *out.ETag, PartNumber: partNumber}, nil
}

// Mark the multipart upload as completed for the remote AWS S3 storage.
func (u *Uploader) CompleteMultipart(ctx context.Context, key, uploadID string, parts []entity.Part) (string, error) {
	fileParts := make([]*s3.CompletedPart, 0, len(parts))
	for _, part := range parts {
		fileParts = append(fileParts, &s3.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int64(part.PartNumber),
		})
	}
	out, err := u.s3Uploader.S3.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		MultipartUpload: &s3.CompletedMultipartUpload{
			Parts: fileParts,
		},
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return "", err
	}
	if out.Location != nil && *out.Location != "" {
		return *out.Location, nil
	}
	return u.objectURL(key), nil
}

// Discard an in-flight multipart upload from the remote AWS S3 storage.
func (u *Uploader) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := u.s3Uploader.S3.AbortMultipartUploadWithContext(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	return err
}

// Upload an entire file to remote AWS S3 storage.
func (u *Uploader) SimpleUpload(ctx context.Context, key, contentType string, body []byte) (string, error) {
	_, err := u.s3Uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Body:        bytes.NewReader(body),
	})
	if err != nil {
		return "", err
	}
	return u.objectURL(key), nil
}

// Determine whether an object already exists at the given key.
func (u *Uploader) Exists(ctx context.Context, key string) (bool, error) {
	_, err := u.s3Uploader.S3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.RequestFailure); ok && aerr.StatusCode() == 404 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (u *Uploader) objectURL(key string) string {
	return fmt.Sprintf("https://%s.s3-%s.amazonaws.com/%s", u.bucket, u.region, key)
}
