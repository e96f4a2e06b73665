package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// The endpoints below exist so stock Matrix clients get past startup. Each
// returns a fixed payload describing a server with nothing configured.

func pushRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"global": gin.H{}})
}

func turnServer(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
}

func devices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": []any{}})
}

func roomKeysVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
}

func mediaConfig(uploadLimit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"m.upload.size": uploadLimit})
	}
}

func capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"capabilities": gin.H{}})
}

func keysQuery(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
}

func keysUpload(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"one_time_key_counts": gin.H{}})
}

func createFilter(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"filter_id": "1"})
}

func getFilter(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
