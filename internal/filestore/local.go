package filestore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const localMetaDir = ".meta"

type localConfig struct {
	Dir string `json:"dir"`
}

// localStore mirrors bucket/key onto a directory tree for development.
// Metadata and tags live in a sidecar tree under .meta.
type localStore struct {
	dir string
}

type localMeta struct {
	ContentType string            `json:"content_type"`
	ETag        string            `json:"etag"`
	Metadata    map[string]string `json:"metadata"`
	Tags        map[string]string `json:"tags"`
}

func init() {
	Register("local", createLocalStore)
}

func createLocalStore(ctx context.Context, args interface{}) (Store, error) {
	config := &localConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("local store dir is required")
	}
	return &localStore{dir: config.Dir}, nil
}

func (s *localStore) Type() string {
	return "local"
}

func (s *localStore) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	root, err := s.bucketDir(bucket)
	if err != nil {
		return nil, err
	}
	var out []Object
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		obj := Object{Key: key, Size: info.Size(), LastModified: info.ModTime().UTC()}
		if meta, err := s.readMeta(bucket, key); err == nil {
			obj.ETag = meta.ETag
		}
		out = append(out, obj)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *localStore) Put(ctx context.Context, bucket string, in *PutInput) (string, error) {
	path, err := s.objectPath(bucket, in.Key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, in.Body, 0o644); err != nil {
		return "", err
	}
	sum := md5.Sum(in.Body)
	meta := &localMeta{
		ContentType: in.ContentType,
		ETag:        hex.EncodeToString(sum[:]),
		Metadata:    in.Metadata,
		Tags:        in.Tags,
	}
	if err := s.writeMeta(bucket, in.Key, meta); err != nil {
		return "", err
	}
	return meta.ETag, nil
}

func (s *localStore) Copy(ctx context.Context, bucket string, in *CopyInput) error {
	src, err := s.objectPath(bucket, in.SrcKey)
	if err != nil {
		return err
	}
	body, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", in.SrcKey, err)
	}
	meta, err := s.readMeta(bucket, in.SrcKey)
	if err != nil {
		meta = &localMeta{}
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = meta.ContentType
	}
	tags := meta.Tags
	if in.Tags != nil {
		tags = in.Tags
	}
	_, err = s.Put(ctx, bucket, &PutInput{
		Key:         in.DstKey,
		Body:        body,
		ContentType: contentType,
		Metadata:    in.Metadata,
		Tags:        tags,
	})
	return err
}

func (s *localStore) Delete(ctx context.Context, bucket, key string) error {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	metaPath, err := s.metaPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *localStore) DeleteBatch(ctx context.Context, bucket string, keys []string) ([]DeleteFailure, error) {
	if len(keys) > MaxBatchDelete {
		return nil, fmt.Errorf("batch delete accepts at most %d keys, got %d", MaxBatchDelete, len(keys))
	}
	var failures []DeleteFailure
	for _, key := range keys {
		if err := s.Delete(ctx, bucket, key); err != nil {
			failures = append(failures, DeleteFailure{Key: key, Code: "InternalError", Message: err.Error()})
		}
	}
	return failures, nil
}

func (s *localStore) Tags(ctx context.Context, bucket, key string) (map[string]string, error) {
	meta, err := s.readMeta(bucket, key)
	if err != nil {
		return nil, err
	}
	if meta.Tags == nil {
		return map[string]string{}, nil
	}
	return meta.Tags, nil
}

func (s *localStore) bucketDir(bucket string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == ".." || bucket == localMetaDir {
		return "", fmt.Errorf("invalid bucket: %q", bucket)
	}
	return filepath.Join(s.dir, bucket), nil
}

func (s *localStore) objectPath(bucket, key string) (string, error) {
	root, err := s.bucketDir(bucket)
	if err != nil {
		return "", err
	}
	if err := checkKey(key); err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(key)), nil
}

func (s *localStore) metaPath(bucket, key string) (string, error) {
	if _, err := s.bucketDir(bucket); err != nil {
		return "", err
	}
	if err := checkKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, localMetaDir, bucket, filepath.FromSlash(key)+".json"), nil
}

func (s *localStore) readMeta(bucket, key string) (*localMeta, error) {
	path, err := s.metaPath(bucket, key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta := &localMeta{}
	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *localStore) writeMeta(bucket, key string, meta *localMeta) error {
	path, err := s.metaPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func checkKey(key string) error {
	if key == "" || strings.HasSuffix(key, "/") {
		return fmt.Errorf("invalid object key: %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("invalid object key: %q", key)
		}
	}
	return nil
}
