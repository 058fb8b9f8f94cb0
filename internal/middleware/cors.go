package middleware

import (
	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbchat/internal/pkg/response"
)

// CORS stamps the fixed header set on every HTTP response so requests that
// never reach the router (rate limited, unknown route) carry it too.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		for k, v := range response.CORSHeaders() {
			c.Writer.Header().Set(k, v)
		}
		c.Next()
	}
}

// WriteProxyResponse copies a proxy response onto the HTTP reply.
func WriteProxyResponse(c *gin.Context, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		c.Writer.Header().Set(k, v)
	}
	c.Data(resp.StatusCode, resp.Headers["Content-Type"], []byte(resp.Body))
}
