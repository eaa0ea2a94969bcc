package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/go-while/go-rangeview/internal/fetcher"
)

// getUsers serves the scan as {"results": [...]}, or {"error": "..."} with the page's status codes
func (s *WebServer) getUsers(c *gin.Context) {
	if s.Users == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgUnavailable})
		return
	}

	res, err := s.Users.Fetch(c.Request.Context())
	if err != nil {
		s.reportFetchError(c, err)
		status, msg := fetchErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	if etag, err := recordsETag(res.Records); err == nil {
		c.Header("ETag", etag)
		if etagMatches(c.GetHeader("If-None-Match"), etag) {
			c.Status(http.StatusNotModified)
			return
		}
	}

	c.Header("X-Partitions-Truncated", strconv.FormatBool(res.Truncated()))
	c.JSON(http.StatusOK, gin.H{"results": res.Records})
}

// getPlan runs only the aggregate and returns the partition plan
func (s *WebServer) getPlan(c *gin.Context) {
	if s.Users == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgUnavailable})
		return
	}

	plan, err := s.Users.Plan(c.Request.Context())
	if err != nil {
		s.reportFetchError(c, err)
		status, msg := fetchErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"table":      s.Table,
		"partitions": plan.Partitions(),
		"plan":       plan,
	})
}

var _ UsersFetcher = (*fetcher.RangePartitionedFetcher)(nil)
