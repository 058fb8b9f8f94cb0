package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbchat/internal/middleware"
	"github.com/xxxsen/kbchat/internal/pkg/response"
)

// RegisterRoutes serves every path through the proxy router so serve mode
// answers exactly like the Lambda deployment. Local GET endpoints such as
// /metrics are matched first by exact path.
func RegisterRoutes(group *gin.RouterGroup, router *Router, local map[string]gin.HandlerFunc) {
	group.Any("/*path", func(c *gin.Context) {
		if h, ok := local[c.Param("path")]; ok && c.Request.Method == http.MethodGet {
			h(c)
			return
		}
		router.serveHTTP(c)
	})
}

func (r *Router) serveHTTP(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		middleware.WriteProxyResponse(c, response.Error(http.StatusBadRequest, "read request body failed", nil))
		return
	}
	middleware.WriteProxyResponse(c, r.Handle(c.Request.Context(), toProxyRequest(c, body)))
}

func toProxyRequest(c *gin.Context, body []byte) events.APIGatewayProxyRequest {
	headers := make(map[string]string, len(c.Request.Header))
	for k, v := range c.Request.Header {
		headers[k] = strings.Join(v, ",")
	}
	query := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	path := c.Param("path")
	if path == "" {
		path = c.Request.URL.Path
	}
	return events.APIGatewayProxyRequest{
		HTTPMethod:            c.Request.Method,
		Path:                  path,
		Headers:               headers,
		QueryStringParameters: query,
		Body:                  string(body),
		RequestContext: events.APIGatewayProxyRequestContext{
			RequestID:  c.GetString(middleware.ContextRequestIDKey),
			HTTPMethod: c.Request.Method,
			Path:       c.Request.URL.Path,
			Identity: events.APIGatewayRequestIdentity{
				SourceIP: c.ClientIP(),
			},
		},
	}
}
