package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// normalizeBase maps "", "/" to "" and "api/" to "/api".
func normalizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

type errorResp struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, code int, v any) {
	c.JSON(code, v)
}

func writeError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, errorResp{Error: err.Error()})
}
