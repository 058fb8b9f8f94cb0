package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/identity"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/awsutil"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/pkg/response"
	"github.com/xxxsen/kbchat/internal/service"
)

const (
	headerAccessKeyID     = "x-aws-access-key-id"
	headerSecretAccessKey = "x-aws-secret-access-key"
	headerSessionToken    = "x-aws-session-token"
)

type DocumentManager interface {
	List(ctx context.Context, kbID, dsID string) ([]model.DocumentDescriptor, error)
	Upload(ctx context.Context, in *service.UploadInput) (*model.DocumentDescriptor, error)
	Delete(ctx context.Context, kbID, dsID, id string) (*model.DeleteResult, error)
	DeleteBatch(ctx context.Context, kbID, dsID string, ids []string) (*model.BatchDeleteResult, error)
	Rename(ctx context.Context, kbID, dsID, id, newName string) (*model.RenameResult, error)
	OriginalName(ctx context.Context, kbID, dsID, id string) (string, error)
}

// DocumentManagerFactory builds a manager whose clients authenticate with
// creds. The zero Credentials selects the ambient chain.
type DocumentManagerFactory func(ctx context.Context, creds awsutil.Credentials) (DocumentManager, error)

type uploadRequest struct {
	Filename    string `json:"filename"`
	FileContent string `json:"file_content"`
	ContentType string `json:"content_type"`
}

type batchDeleteRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

type renameRequest struct {
	NewName string `json:"new_name"`
}

type listResponse struct {
	Documents       []model.DocumentDescriptor `json:"documents"`
	KnowledgeBaseID string                     `json:"knowledge_base_id"`
	DataSourceID    string                     `json:"data_source_id"`
	Count           int                        `json:"count"`
	Timestamp       string                     `json:"timestamp"`
}

func credentialsFromHeaders(headers map[string]string) awsutil.Credentials {
	h := identity.LowerHeaders(headers)
	return awsutil.Credentials{
		AccessKeyID:     h[headerAccessKeyID],
		SecretAccessKey: h[headerSecretAccessKey],
		SessionToken:    h[headerSessionToken],
	}
}

// handleDocuments serves
//
//	GET    /documents/{kb}/{ds}
//	GET    /documents/{kb}/{ds}/{id}/name
//	POST   /documents/{kb}/{ds}
//	DELETE /documents/{kb}/{ds}/{id}
//	DELETE /documents/{kb}/{ds}/batch
//	PUT    /documents/{kb}/{ds}/{id}/rename
//
// Document ids are object keys and may span several path segments.
func (r *Router) handleDocuments(ctx context.Context, method, path string, evt events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	parts := pathParts(path)
	if len(parts) < 3 {
		return response.Error(http.StatusBadRequest,
			"Invalid path. Expected format: /documents/{knowledgeBaseId}/{dataSourceId}",
			map[string]interface{}{"received_path": path, "path_parts": parts})
	}
	kbID, dsID := parts[1], parts[2]
	rest := parts[3:]
	creds := credentialsFromHeaders(evt.Headers)
	logger := r.logger.With(
		zap.String("knowledge_base_id", kbID),
		zap.String("data_source_id", dsID),
		zap.String("credentials", creds.Mode()),
	)
	if creds.Explicit() {
		logger = logger.With(zap.String("access_key_id", awsutil.MaskKey(creds.AccessKeyID)))
	}

	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodPut:
	default:
		return errorResponse(appErr.MethodNotAllowed(fmt.Sprintf("Method %s not allowed", method)))
	}
	docs, err := r.deps.Documents(ctx, creds)
	if err != nil {
		logger.Error("build document manager failed", zap.Error(err))
		return errorResponse(err)
	}

	switch method {
	case http.MethodGet:
		if len(rest) >= 2 && rest[len(rest)-1] == "name" {
			return r.originalName(ctx, docs, kbID, dsID, strings.Join(rest[:len(rest)-1], "/"))
		}
		return r.listDocuments(ctx, logger, docs, kbID, dsID)
	case http.MethodPost:
		return r.uploadDocument(ctx, docs, kbID, dsID, evt.Body)
	case http.MethodDelete:
		if len(rest) == 0 {
			return response.Error(http.StatusBadRequest, "Document ID or batch operation required for DELETE", nil)
		}
		if len(rest) == 1 && rest[0] == "batch" {
			req := &batchDeleteRequest{}
			if err := decodeBody(evt.Body, req); err != nil {
				return errorResponse(err)
			}
			res, err := docs.DeleteBatch(ctx, kbID, dsID, req.DocumentIDs)
			if err != nil {
				return errorResponse(err)
			}
			return response.JSON(http.StatusOK, res)
		}
		res, err := docs.Delete(ctx, kbID, dsID, strings.Join(rest, "/"))
		if err != nil {
			return errorResponse(err)
		}
		return response.JSON(http.StatusOK, res)
	default:
		if len(rest) < 2 || rest[len(rest)-1] != "rename" {
			return response.Error(http.StatusBadRequest, "Invalid PUT operation. Expected /documents/{kb}/{ds}/{docId}/rename", nil)
		}
		req := &renameRequest{}
		if err := decodeBody(evt.Body, req); err != nil {
			return errorResponse(err)
		}
		if strings.TrimSpace(req.NewName) == "" {
			return response.Error(http.StatusBadRequest, "new_name is required", nil)
		}
		res, err := docs.Rename(ctx, kbID, dsID, strings.Join(rest[:len(rest)-1], "/"), req.NewName)
		if err != nil {
			return errorResponse(err)
		}
		return response.JSON(http.StatusOK, res)
	}
}

func (r *Router) listDocuments(ctx context.Context, logger *zap.Logger, docs DocumentManager, kbID, dsID string) events.APIGatewayProxyResponse {
	list, err := docs.List(ctx, kbID, dsID)
	if err != nil {
		logger.Error("list documents failed", zap.Error(err))
		if appErr.IsNotFound(err) {
			return errorResponse(err)
		}
		return response.Error(http.StatusInternalServerError,
			fmt.Sprintf("Error listing documents: %v", err),
			map[string]interface{}{"knowledge_base_id": kbID, "data_source_id": dsID})
	}
	return response.JSON(http.StatusOK, &listResponse{
		Documents:       list,
		KnowledgeBaseID: kbID,
		DataSourceID:    dsID,
		Count:           len(list),
		Timestamp:       r.now().UTC().Format(time.RFC3339),
	})
}

func (r *Router) uploadDocument(ctx context.Context, docs DocumentManager, kbID, dsID, body string) events.APIGatewayProxyResponse {
	req := &uploadRequest{}
	if err := decodeBody(body, req); err != nil {
		return errorResponse(err)
	}
	if req.Filename == "" || req.FileContent == "" {
		return response.Error(http.StatusBadRequest, "filename and file_content are required", nil)
	}
	content, err := base64.StdEncoding.DecodeString(req.FileContent)
	if err != nil {
		return response.Error(http.StatusBadRequest, fmt.Sprintf("Invalid base64 content: %v", err), nil)
	}
	doc, err := docs.Upload(ctx, &service.UploadInput{
		KnowledgeBaseID: kbID,
		DataSourceID:    dsID,
		Filename:        req.Filename,
		Content:         content,
		ContentType:     req.ContentType,
	})
	if err != nil {
		return errorResponse(err)
	}
	return response.JSON(http.StatusCreated, doc)
}

func (r *Router) originalName(ctx context.Context, docs DocumentManager, kbID, dsID, id string) events.APIGatewayProxyResponse {
	name, err := docs.OriginalName(ctx, kbID, dsID, id)
	if err != nil {
		return errorResponse(err)
	}
	return response.JSON(http.StatusOK, map[string]string{"id": id, "original_filename": name})
}
