package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/kbchat/internal/db"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
)

const queryLogTable = "query_logs"

var queryLogFields = []string{
	"query_id", "conversation_id", "iam_username", "iam_user_arn", "iam_group", "person", "team",
	"user_query", "query_word_count", "query_char_count", "tokens_used", "model_id", "knowledge_base_id",
	"status", "llm_response", "response_word_count", "response_char_count", "processing_time_ms",
	"vector_db_time_ms", "llm_processing_time_ms", "error_message", "lambda_request_id",
	"api_gateway_request_id", "source_ip", "retrieved_documents_count", "retrieval_only",
	"request_timestamp", "response_timestamp",
}

type QueryLogRepo struct {
	conn db.Conn
}

func NewQueryLogRepo(conn db.Conn) *QueryLogRepo {
	return &QueryLogRepo{conn: conn}
}

func (r *QueryLogRepo) Create(ctx context.Context, entry *model.QueryLog) error {
	data := map[string]interface{}{
		"query_id":                  entry.QueryID,
		"conversation_id":           entry.ConversationID,
		"iam_username":              entry.Username,
		"iam_user_arn":              entry.UserARN,
		"iam_group":                 entry.Group,
		"person":                    entry.Person,
		"team":                      entry.Team,
		"user_query":                entry.Query,
		"query_word_count":          entry.QueryWordCount,
		"query_char_count":          entry.QueryCharCount,
		"model_id":                  entry.ModelID,
		"knowledge_base_id":         entry.KnowledgeBaseID,
		"status":                    entry.Status,
		"lambda_request_id":         entry.LambdaRequestID,
		"api_gateway_request_id":    entry.APIGatewayRequestID,
		"source_ip":                 entry.SourceIP,
		"retrieved_documents_count": entry.RetrievedDocumentsCount,
		"retrieval_only":            entry.RetrievalOnly,
		"request_timestamp":         entry.RequestTime,
	}
	sqlStr, args, err := builder.BuildInsert(queryLogTable, []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, sqlStr, args)
	if dbutil.IsConflict(err) {
		return appErr.ErrConflict
	}
	return err
}

// UpdateCompleted moves a pending entry to completed. It reports false when
// the entry was missing or already finalized.
func (r *QueryLogRepo) UpdateCompleted(ctx context.Context, queryID string, c *model.QueryCompletion, responseWords, responseChars int, responseTime int64) (bool, error) {
	update := map[string]interface{}{
		"status":                    model.QueryStatusCompleted,
		"llm_response":              c.Response,
		"response_word_count":       responseWords,
		"response_char_count":       responseChars,
		"tokens_used":               c.TokensUsed,
		"processing_time_ms":        c.ProcessingTimeMs,
		"vector_db_time_ms":         c.VectorDBTimeMs,
		"llm_processing_time_ms":    c.LLMTimeMs,
		"retrieved_documents_count": c.RetrievedDocumentsCount,
		"response_timestamp":        responseTime,
	}
	return r.transition(ctx, queryID, update)
}

func (r *QueryLogRepo) UpdateError(ctx context.Context, queryID, message string, responseTime int64) (bool, error) {
	update := map[string]interface{}{
		"status":             model.QueryStatusError,
		"error_message":      message,
		"response_timestamp": responseTime,
	}
	return r.transition(ctx, queryID, update)
}

func (r *QueryLogRepo) transition(ctx context.Context, queryID string, update map[string]interface{}) (bool, error) {
	where := map[string]interface{}{
		"query_id": queryID,
		"status":   model.QueryStatusPending,
	}
	sqlStr, args, err := builder.BuildUpdate(queryLogTable, where, update)
	if err != nil {
		return false, err
	}
	res, err := r.exec(ctx, sqlStr, args)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkStale fails every pending entry requested before cutoff.
func (r *QueryLogRepo) MarkStale(ctx context.Context, cutoff int64, message string, responseTime int64) (int64, error) {
	where := map[string]interface{}{
		"status":              model.QueryStatusPending,
		"request_timestamp <": cutoff,
	}
	update := map[string]interface{}{
		"status":             model.QueryStatusError,
		"error_message":      message,
		"response_timestamp": responseTime,
	}
	sqlStr, args, err := builder.BuildUpdate(queryLogTable, where, update)
	if err != nil {
		return 0, err
	}
	res, err := r.exec(ctx, sqlStr, args)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *QueryLogRepo) Get(ctx context.Context, queryID string) (*model.QueryLog, error) {
	sqlStr, args, err := builder.BuildSelect(queryLogTable, map[string]interface{}{"query_id": queryID}, queryLogFields)
	if err != nil {
		return nil, err
	}
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.conn.Driver(), sqlStr, args)
	row := conn.QueryRowContext(ctx, sqlStr, args...)

	var (
		entry                                           model.QueryLog
		conversationID, userARN, group, person, team    sql.NullString
		response, errorMessage, lambdaID, gatewayID, ip sql.NullString
		responseWords, responseChars, tokens            sql.NullInt64
		processing, vectorMs, llmMs, responseTime       sql.NullInt64
	)
	if err := row.Scan(
		&entry.QueryID, &conversationID, &entry.Username, &userARN, &group, &person, &team,
		&entry.Query, &entry.QueryWordCount, &entry.QueryCharCount, &tokens, &entry.ModelID, &entry.KnowledgeBaseID,
		&entry.Status, &response, &responseWords, &responseChars, &processing,
		&vectorMs, &llmMs, &errorMessage, &lambdaID,
		&gatewayID, &ip, &entry.RetrievedDocumentsCount, &entry.RetrievalOnly,
		&entry.RequestTime, &responseTime,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	entry.ConversationID = conversationID.String
	entry.UserARN = userARN.String
	entry.Group = group.String
	entry.Person = person.String
	entry.Team = team.String
	entry.Response = response.String
	entry.ErrorMessage = errorMessage.String
	entry.LambdaRequestID = lambdaID.String
	entry.APIGatewayRequestID = gatewayID.String
	entry.SourceIP = ip.String
	entry.ResponseWordCount = int(responseWords.Int64)
	entry.ResponseCharCount = int(responseChars.Int64)
	entry.ProcessingTimeMs = processing.Int64
	entry.ResponseTime = responseTime.Int64
	if tokens.Valid {
		v := int(tokens.Int64)
		entry.TokensUsed = &v
	}
	if vectorMs.Valid {
		v := vectorMs.Int64
		entry.VectorDBTimeMs = &v
	}
	if llmMs.Valid {
		v := llmMs.Int64
		entry.LLMTimeMs = &v
	}
	return &entry, nil
}

func (r *QueryLogRepo) exec(ctx context.Context, sqlStr string, args []interface{}) (sql.Result, error) {
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.conn.Driver(), sqlStr, args)
	return conn.ExecContext(ctx, sqlStr, args...)
}
