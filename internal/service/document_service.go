package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/filestore"
	"github.com/xxxsen/kbchat/internal/metrics"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/awsutil"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
)

const (
	keyTimeLayout       = "20060102_150405"
	tagOriginalName     = "original_filename"
	codeResourceMissing = "ResourceNotFoundException"
)

var errNoBucket = errors.New("no bucket found in data source configuration")

// KnowledgeBaseAgent is the control plane of a knowledge base.
type KnowledgeBaseAgent interface {
	GetDataSource(ctx context.Context, knowledgeBaseID, dataSourceID string) (*model.DataSource, error)
	StartIngestionJob(ctx context.Context, knowledgeBaseID, dataSourceID string) (string, error)
}

type DataSourceCache = expirable.LRU[string, model.DataSource]

func NewDataSourceCache(size int, ttl time.Duration) *DataSourceCache {
	return expirable.NewLRU[string, model.DataSource](size, nil, ttl)
}

type UploadInput struct {
	KnowledgeBaseID string
	DataSourceID    string
	Filename        string
	Content         []byte
	ContentType     string
}

// DocumentService manages the objects behind a knowledge base data source.
// Every mutation asks the knowledge base to re-ingest the data source.
type DocumentService struct {
	store  filestore.Store
	agent  KnowledgeBaseAgent
	cache  *DataSourceCache
	logger *zap.Logger
	now    func() time.Time
}

func NewDocumentService(store filestore.Store, agent KnowledgeBaseAgent, cache *DataSourceCache, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		store:  store,
		agent:  agent,
		cache:  cache,
		logger: logger.With(zap.String("component", "documents"), zap.String("store", store.Type())),
		now:    time.Now,
	}
}

func (s *DocumentService) List(ctx context.Context, kbID, dsID string) ([]model.DocumentDescriptor, error) {
	logger := s.logger.With(zap.String("knowledge_base_id", kbID), zap.String("data_source_id", dsID))
	ds, err := s.dataSource(ctx, kbID, dsID)
	if err != nil {
		metrics.DocumentOps.WithLabelValues("list", metrics.Status(err)).Inc()
		return nil, err
	}
	documents := []model.DocumentDescriptor{}
	if ds.Bucket == "" {
		logger.Error("data source has no bucket")
		return documents, nil
	}
	for _, prefix := range ds.Prefixes {
		objects, err := s.store.List(ctx, ds.Bucket, prefix)
		if err != nil {
			logger.Error("list objects failed", zap.String("prefix", prefix), zap.Error(err))
			continue
		}
		for _, obj := range objects {
			if doc, ok := describeObject(ds.Bucket, obj); ok {
				documents = append(documents, doc)
			}
		}
	}
	metrics.DocumentOps.WithLabelValues("list", "ok").Inc()
	logger.Info("documents listed", zap.Int("count", len(documents)))
	return documents, nil
}

func describeObject(bucket string, obj filestore.Object) (model.DocumentDescriptor, bool) {
	if obj.Key == "" || obj.Key[len(obj.Key)-1] == '/' {
		return model.DocumentDescriptor{}, false
	}
	mime, ok := documentType(obj.Key)
	if !ok {
		return model.DocumentDescriptor{}, false
	}
	ts := obj.LastModified.UTC().Format(time.RFC3339)
	return model.DocumentDescriptor{
		ID:        obj.Key,
		Name:      path.Base(obj.Key),
		Status:    model.DocumentStatusActive,
		CreatedAt: ts,
		UpdatedAt: ts,
		Size:      obj.Size,
		Type:      mime,
		Metadata: model.DocumentMetadata{
			S3Key:    obj.Key,
			S3Bucket: bucket,
			ETag:     obj.ETag,
		},
	}, true
}

func (s *DocumentService) Upload(ctx context.Context, in *UploadInput) (*model.DocumentDescriptor, error) {
	mime, ok := documentType(in.Filename)
	if !ok {
		return nil, appErr.Invalid(fmt.Sprintf("file type %s not allowed", path.Ext(in.Filename)), nil)
	}
	ds, err := s.requireBucket(ctx, in.KnowledgeBaseID, in.DataSourceID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	key := objectKey(ds.Prefixes, now, in.Filename)
	contentType := in.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime
	}
	put := &filestore.PutInput{
		Key:         key,
		Body:        in.Content,
		ContentType: contentType,
		Metadata: map[string]string{
			tagOriginalName:     SanitizeFilename(in.Filename),
			"uploaded_at":       now.Format(time.RFC3339),
			"data_source_id":    in.DataSourceID,
			"knowledge_base_id": in.KnowledgeBaseID,
		},
		Tags: s.nameTags(in.Filename),
	}
	etag, err := s.store.Put(ctx, ds.Bucket, put)
	metrics.DocumentOps.WithLabelValues("upload", metrics.Status(err)).Inc()
	if err != nil {
		s.logger.Error("upload document failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Info("document uploaded", zap.String("key", key), zap.Int("size", len(in.Content)))
	s.startIngestion(ctx, in.KnowledgeBaseID, in.DataSourceID)
	ts := now.Format(time.RFC3339)
	return &model.DocumentDescriptor{
		ID:        key,
		Name:      in.Filename,
		Status:    model.DocumentStatusActive,
		CreatedAt: ts,
		UpdatedAt: ts,
		Size:      int64(len(in.Content)),
		Type:      mime,
		Metadata: model.DocumentMetadata{
			S3Key:            key,
			S3Bucket:         ds.Bucket,
			ETag:             etag,
			OriginalFilename: in.Filename,
		},
	}, nil
}

func (s *DocumentService) Delete(ctx context.Context, kbID, dsID, id string) (*model.DeleteResult, error) {
	ds, err := s.requireBucket(ctx, kbID, dsID)
	if err != nil {
		return nil, err
	}
	err = s.store.Delete(ctx, ds.Bucket, id)
	metrics.DocumentOps.WithLabelValues("delete", metrics.Status(err)).Inc()
	if err != nil {
		s.logger.Error("delete document failed", zap.String("key", id), zap.Error(err))
		return nil, fmt.Errorf("delete %s: %w", id, err)
	}
	s.logger.Info("document deleted", zap.String("key", id))
	s.startIngestion(ctx, kbID, dsID)
	return &model.DeleteResult{ID: id, Deleted: true}, nil
}

// DeleteBatch reports per-document failures in the result. Only a failure
// to resolve the data source is returned as an error.
func (s *DocumentService) DeleteBatch(ctx context.Context, kbID, dsID string, ids []string) (*model.BatchDeleteResult, error) {
	if len(ids) == 0 {
		return nil, appErr.Invalid("document_ids array is required", nil)
	}
	ds, err := s.requireBucket(ctx, kbID, dsID)
	if err != nil {
		return nil, err
	}
	result := &model.BatchDeleteResult{Requested: len(ids), Errors: []model.BatchDeleteError{}}
	for start := 0; start < len(ids); start += filestore.MaxBatchDelete {
		end := start + filestore.MaxBatchDelete
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		failures, err := s.store.DeleteBatch(ctx, ds.Bucket, chunk)
		if err != nil {
			s.logger.Error("batch delete chunk failed", zap.Int("offset", start), zap.Int("size", len(chunk)), zap.Error(err))
			for _, id := range chunk {
				result.Errors = append(result.Errors, model.BatchDeleteError{ID: id, Code: awsutil.ErrorCode(err), Message: err.Error()})
			}
			continue
		}
		for _, f := range failures {
			result.Errors = append(result.Errors, model.BatchDeleteError{ID: f.Key, Code: f.Code, Message: f.Message})
		}
	}
	result.Failed = len(result.Errors)
	result.Deleted = result.Requested - result.Failed
	status := "ok"
	if result.Failed > 0 {
		status = "partial"
		s.logger.Error("some documents could not be deleted", zap.Int("failed", result.Failed), zap.Any("errors", result.Errors))
	}
	metrics.DocumentOps.WithLabelValues("delete_batch", status).Inc()
	if result.Deleted > 0 {
		s.startIngestion(ctx, kbID, dsID)
	}
	return result, nil
}

// Rename copies the object under a fresh key and removes the old one. When
// the old object cannot be removed the copy is deleted again so the data
// source never holds both.
func (s *DocumentService) Rename(ctx context.Context, kbID, dsID, id, newName string) (*model.RenameResult, error) {
	mime, ok := documentType(newName)
	if !ok {
		return nil, appErr.Invalid(fmt.Sprintf("file type %s not allowed", path.Ext(newName)), nil)
	}
	ds, err := s.requireBucket(ctx, kbID, dsID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	newKey := objectKey(ds.Prefixes, now, newName)
	logger := s.logger.With(zap.String("old_key", id), zap.String("new_key", newKey))
	tags := s.nameTags(newName)
	if tags == nil {
		tags = map[string]string{}
	}
	err = s.store.Copy(ctx, ds.Bucket, &filestore.CopyInput{
		SrcKey:      id,
		DstKey:      newKey,
		ContentType: mime,
		Metadata: map[string]string{
			tagOriginalName:     SanitizeFilename(newName),
			"renamed_at":        now.Format(time.RFC3339),
			"data_source_id":    dsID,
			"knowledge_base_id": kbID,
		},
		Tags: tags,
	})
	if err != nil {
		metrics.DocumentOps.WithLabelValues("rename", "error").Inc()
		logger.Error("copy document failed", zap.Error(err))
		return nil, fmt.Errorf("copy %s to %s: %w", id, newKey, err)
	}
	if err := s.store.Delete(ctx, ds.Bucket, id); err != nil {
		metrics.DocumentOps.WithLabelValues("rename", "error").Inc()
		logger.Error("delete old object failed, removing copy", zap.Error(err))
		if cleanupErr := s.store.Delete(ctx, ds.Bucket, newKey); cleanupErr != nil {
			logger.Error("remove copy failed", zap.Error(cleanupErr))
			return nil, fmt.Errorf("rename left both %s and %s: delete old: %v, remove copy: %w", id, newKey, err, cleanupErr)
		}
		return nil, fmt.Errorf("delete %s after copy: %w", id, err)
	}
	metrics.DocumentOps.WithLabelValues("rename", "ok").Inc()
	logger.Info("document renamed")
	s.startIngestion(ctx, kbID, dsID)
	return &model.RenameResult{OldID: id, NewID: newKey, NewName: newName}, nil
}

// OriginalName returns the unsanitized name recorded at upload or rename,
// falling back to the key's base name.
func (s *DocumentService) OriginalName(ctx context.Context, kbID, dsID, id string) (string, error) {
	ds, err := s.requireBucket(ctx, kbID, dsID)
	if err != nil {
		return "", err
	}
	tags, err := s.store.Tags(ctx, ds.Bucket, id)
	if err != nil {
		return "", fmt.Errorf("read tags of %s: %w", id, err)
	}
	if v, ok := tags[tagOriginalName]; ok && v != "" {
		return decodeOriginalName(v), nil
	}
	return path.Base(id), nil
}

func (s *DocumentService) nameTags(name string) map[string]string {
	v := encodeOriginalName(name)
	if v == "" {
		s.logger.Warn("original filename too long for a tag, skipped", zap.Int("len", len(name)))
		return nil
	}
	return map[string]string{tagOriginalName: v}
}

func (s *DocumentService) requireBucket(ctx context.Context, kbID, dsID string) (*model.DataSource, error) {
	ds, err := s.dataSource(ctx, kbID, dsID)
	if err != nil {
		return nil, err
	}
	if ds.Bucket == "" {
		return nil, errNoBucket
	}
	return ds, nil
}

func (s *DocumentService) dataSource(ctx context.Context, kbID, dsID string) (*model.DataSource, error) {
	cacheKey := kbID + "/" + dsID
	if s.cache != nil {
		if ds, ok := s.cache.Get(cacheKey); ok {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return &ds, nil
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
	ds, err := s.agent.GetDataSource(ctx, kbID, dsID)
	if err != nil {
		s.logger.Error("get data source failed",
			zap.String("knowledge_base_id", kbID),
			zap.String("data_source_id", dsID),
			zap.String("error_code", awsutil.ErrorCode(err)),
			zap.Error(err))
		if awsutil.ErrorCode(err) == codeResourceMissing {
			return nil, appErr.NotFound(fmt.Sprintf("data source %s not found in knowledge base %s", dsID, kbID))
		}
		return nil, err
	}
	if s.cache != nil && ds.Bucket != "" {
		s.cache.Add(cacheKey, *ds)
	}
	return ds, nil
}

func (s *DocumentService) startIngestion(ctx context.Context, kbID, dsID string) {
	jobID, err := s.agent.StartIngestionJob(ctx, kbID, dsID)
	metrics.IngestionJobs.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		s.logger.Warn("could not start ingestion job",
			zap.String("knowledge_base_id", kbID),
			zap.String("data_source_id", dsID),
			zap.Error(err))
		return
	}
	s.logger.Info("ingestion job started", zap.String("data_source_id", dsID), zap.String("job_id", jobID))
}

func objectKey(prefixes []string, at time.Time, filename string) string {
	prefix := ""
	if len(prefixes) > 0 {
		prefix = prefixes[0]
	}
	return prefix + at.Format(keyTimeLayout) + "_" + SanitizeFilename(filename)
}
