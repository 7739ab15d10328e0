package file

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitwise74/media-api/app/access"
	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/internal/search"

	"github.com/gin-gonic/gin"
)

// list reads a parameter given either repeated or comma separated
func list(c *gin.Context, key string) []string {
	var out []string
	for _, v := range c.QueryArray(key) {
		for _, p := range strings.Split(v, ",") {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				out = append(out, p)
			}
		}
	}

	return out
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}

	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

func parseInt(s string, into *int64) error {
	if s == "" {
		return nil
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return strconv.ErrSyntax
	}

	*into = v
	return nil
}

// queryFrom builds a search query out of the URL parameters
func queryFrom(c *gin.Context) (search.Query, string) {
	userID, privileged := access.Viewer(c)

	q := search.Query{
		Text:             c.Query("q"),
		Categories:       list(c, "category"),
		Tags:             list(c, "tags"),
		ModerationStatus: model.ModerationStatus(c.Query("moderation_status")),
		ProcessingStatus: model.ProcessingStatus(c.Query("processing_status")),
		OwnerID:          c.Query("owner"),
		ViewerID:         userID,
		Privileged:       privileged,
		SortBy:           c.Query("sort"),
		SortOrder:        c.Query("order"),
	}

	for _, t := range list(c, "type") {
		q.MediaTypes = append(q.MediaTypes, model.MediaClass(t))
	}

	var err error
	if q.CreatedFrom, err = parseTime(c.Query("from")); err != nil {
		return q, "Invalid from date provided"
	}
	if q.CreatedTo, err = parseTime(c.Query("to")); err != nil {
		return q, "Invalid to date provided"
	}

	if parseInt(c.Query("min_size"), &q.MinSize) != nil {
		return q, "Invalid min_size provided"
	}
	if parseInt(c.Query("max_size"), &q.MaxSize) != nil {
		return q, "Invalid max_size provided"
	}

	var page, limit int64
	if parseInt(c.DefaultQuery("page", "1"), &page) != nil || page < 1 {
		return q, "Invalid page provided"
	}
	if parseInt(c.DefaultQuery("limit", strconv.Itoa(search.DefaultLimit)), &limit) != nil || limit < 1 {
		return q, "Invalid limit provided"
	}
	q.Page, q.Limit = int(page), int(min(limit, search.MaxLimit))

	return q, ""
}

func FileSearch(c *gin.Context, d *internal.Deps) {
	q, msg := queryFrom(c)
	if msg != "" {
		respond.Error(c, http.StatusBadRequest, msg)
		return
	}

	page, err := d.Search.Search(c.Request.Context(), q)
	if err != nil {
		respond.Internal(c, "Failed to search files", err)
		return
	}

	c.JSON(http.StatusOK, page)
}
