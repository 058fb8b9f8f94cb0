package filestore

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/xxxsen/kbchat/internal/pkg/awsutil"
)

type S3Config struct {
	Region      string              `json:"region"`
	Credentials awsutil.Credentials `json:"credentials"`
}

type s3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
}

type s3Store struct {
	client s3API
}

func init() {
	Register("s3", createS3Store)
}

func createS3Store(ctx context.Context, args interface{}) (Store, error) {
	cfg := &S3Config{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	awsCfg, err := awsutil.LoadConfig(ctx, cfg.Region, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	return &s3Store{client: s3.NewFromConfig(awsCfg)}, nil
}

func (s *s3Store) Type() string {
	return "s3"
}

func (s *s3Store) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(1000),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	var out []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			o := Object{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
				ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
			}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *s3Store) Put(ctx context.Context, bucket string, in *PutInput) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(in.Key),
		Body:        bytes.NewReader(in.Body),
		ContentType: aws.String(in.ContentType),
		Metadata:    in.Metadata,
	}
	if len(in.Tags) > 0 {
		input.Tagging = aws.String(encodeTags(in.Tags))
	}
	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", bucket, in.Key, err)
	}
	return strings.Trim(aws.ToString(out.ETag), `"`), nil
}

func (s *s3Store) Copy(ctx context.Context, bucket string, in *CopyInput) error {
	input := &s3.CopyObjectInput{
		Bucket:            aws.String(bucket),
		Key:               aws.String(in.DstKey),
		CopySource:        aws.String(copySource(bucket, in.SrcKey)),
		MetadataDirective: s3types.MetadataDirectiveReplace,
		TaggingDirective:  s3types.TaggingDirectiveCopy,
		Metadata:          in.Metadata,
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}
	if in.Tags != nil {
		input.TaggingDirective = s3types.TaggingDirectiveReplace
		input.Tagging = aws.String(encodeTags(in.Tags))
	}
	if _, err := s.client.CopyObject(ctx, input); err != nil {
		return fmt.Errorf("copy s3://%s/%s to %s: %w", bucket, in.SrcKey, in.DstKey, err)
	}
	return nil
}

func (s *s3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *s3Store) DeleteBatch(ctx context.Context, bucket string, keys []string) ([]DeleteFailure, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if len(keys) > MaxBatchDelete {
		return nil, fmt.Errorf("batch delete accepts at most %d keys, got %d", MaxBatchDelete, len(keys))
	}
	objects := make([]s3types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(k)})
	}
	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("delete objects in %s: %w", bucket, err)
	}
	failures := make([]DeleteFailure, 0, len(out.Errors))
	for _, e := range out.Errors {
		failures = append(failures, DeleteFailure{
			Key:     aws.ToString(e.Key),
			Code:    aws.ToString(e.Code),
			Message: aws.ToString(e.Message),
		})
	}
	return failures, nil
}

func (s *s3Store) Tags(ctx context.Context, bucket, key string) (map[string]string, error) {
	out, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get tags s3://%s/%s: %w", bucket, key, err)
	}
	tags := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

func encodeTags(tags map[string]string) string {
	values := url.Values{}
	for k, v := range tags {
		values.Set(k, v)
	}
	return values.Encode()
}

func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}
