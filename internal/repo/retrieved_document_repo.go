package repo

import (
	"context"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/kbchat/internal/db"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/dbutil"
)

const retrievedDocumentTable = "retrieved_documents"

type RetrievedDocumentRepo struct {
	conn db.Conn
}

func NewRetrievedDocumentRepo(conn db.Conn) *RetrievedDocumentRepo {
	return &RetrievedDocumentRepo{conn: conn}
}

// BatchInsert writes all records in one statement.
func (r *RetrievedDocumentRepo) BatchInsert(ctx context.Context, docs []model.RetrievedDocument) error {
	if len(docs) == 0 {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, map[string]interface{}{
			"query_id":           d.QueryID,
			"document_reference": d.DocumentReference,
			"chunk_text":         d.ChunkText,
			"similarity_score":   d.SimilarityScore,
			"rank_position":      d.RankPosition,
			"retrieved_at":       d.RetrievedAt,
		})
	}
	sqlStr, args, err := builder.BuildInsert(retrievedDocumentTable, rows)
	if err != nil {
		return err
	}
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.conn.Driver(), sqlStr, args)
	_, err = conn.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *RetrievedDocumentRepo) ListByQuery(ctx context.Context, queryID string) ([]model.RetrievedDocument, error) {
	sqlStr, args, err := builder.BuildSelect(retrievedDocumentTable, map[string]interface{}{
		"query_id": queryID,
		"_orderby": "rank_position asc",
	}, []string{"query_id", "document_reference", "chunk_text", "similarity_score", "rank_position", "retrieved_at"})
	if err != nil {
		return nil, err
	}
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.conn.Driver(), sqlStr, args)
	rows, err := conn.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RetrievedDocument
	for rows.Next() {
		var d model.RetrievedDocument
		if err := rows.Scan(&d.QueryID, &d.DocumentReference, &d.ChunkText, &d.SimilarityScore, &d.RankPosition, &d.RetrievedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
