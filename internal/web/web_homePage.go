package web

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/go-while/go-rangeview/internal/fetcher"
	"github.com/go-while/go-rangeview/internal/models"
)

// homePage renders the users table loaded by the partitioned scan
func (s *WebServer) homePage(c *gin.Context) {
	if s.Users == nil {
		s.renderError(c, http.StatusInternalServerError, msgUnavailable, fetcher.ErrBindingUnavailable.Error())
		return
	}

	res, err := s.Users.Fetch(c.Request.Context())
	if err != nil {
		s.reportFetchError(c, err)
		status, msg := fetchErrorStatus(err)
		s.renderError(c, status, msg, err.Error())
		return
	}

	data := UsersPageData{
		TemplateData: s.getBaseTemplateData(c, "Users"),
		Table:        s.Table,
		Partitions:   s.Users.Partitions(),
		PartSize:     res.Plan.PartSize,
		RowCount:     formatCount(len(res.Records), "user"),
		Records:      res.Records,
		Truncated:    res.Truncated(),
	}

	tagged := [][]*models.Record{res.Records}
	if s.Secondary != nil {
		data.SecondaryEnabled = true
		recs, err := s.Secondary.FetchRecords(c.Request.Context())
		if err != nil {
			// the primary table is still shown
			log.Printf("[WEB]: secondary source failed: %v (request %s)", err, requestID(c))
			data.SecondaryError = "Secondary users are not available right now"
		} else {
			data.SecondaryRecords = recs
			tagged = append(tagged, recs)
		}
	}

	if etag, err := pageETag(tagged, data.SecondaryError != ""); err == nil {
		c.Header("ETag", etag)
		c.Header("Cache-Control", "no-cache")
		if etagMatches(c.GetHeader("If-None-Match"), etag) {
			c.Status(http.StatusNotModified)
			return
		}
	} else {
		log.Printf("[WEB]: etag: %v", err)
	}

	s.renderTemplate(c, http.StatusOK, "users.html", data)
}

func pageETag(sections [][]*models.Record, secondaryFailed bool) (string, error) {
	var all []*models.Record
	for _, recs := range sections {
		all = append(all, recs...)
		// section separator
		all = append(all, nil)
	}
	if secondaryFailed {
		all = append(all, nil)
	}
	return recordsETag(all)
}
