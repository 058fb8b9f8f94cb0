package response

import (
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

const corsAllowHeaders = "Content-Type, Authorization, X-AWS-Access-Key-Id, X-AWS-Secret-Access-Key, X-AWS-Session-Token, X-Amz-Date, X-Api-Key, X-Amz-Security-Token"

// CORSHeaders is the header set carried by every response, errors included.
func CORSHeaders() map[string]string {
	return map[string]string{
		"Content-Type":                     "application/json",
		"Access-Control-Allow-Origin":      "*",
		"Access-Control-Allow-Methods":     "GET, POST, PUT, DELETE, OPTIONS",
		"Access-Control-Allow-Headers":     corsAllowHeaders,
		"Access-Control-Allow-Credentials": "false",
		"Access-Control-Max-Age":           "86400",
	}
}

func JSON(status int, data interface{}) events.APIGatewayProxyResponse {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"encode response failed"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    CORSHeaders(),
		Body:       string(body),
	}
}

// Error builds {"error": message} plus any extra fields.
func Error(status int, message string, extra map[string]interface{}) events.APIGatewayProxyResponse {
	body := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		body[k] = v
	}
	body["error"] = message
	return JSON(status, body)
}
