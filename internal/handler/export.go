package handler

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/response"
	"github.com/smartwords/api/internal/service"
)

type ExportHandler struct {
	sets *service.SetService
}

func NewExportHandler(sets *service.SetService) *ExportHandler {
	return &ExportHandler{sets: sets}
}

// Export downloads a set's words as json, csv or markdown.
func (h *ExportHandler) Export(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	setID, ok := pathUUID(c, "id", apperr.CodeInvalidSetID)
	if !ok {
		return
	}

	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "csv" && format != "md" && format != "markdown" {
		response.Error(c, apperr.Validation(apperr.CodeInvalidQuery, "Invalid format. Use json, csv, or md"))
		return
	}

	set, err := h.sets.Get(c.Request.Context(), id.UserID, setID)
	if err != nil {
		response.Error(c, err)
		return
	}

	switch format {
	case "json":
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=set-%s.json", set.ID))
		c.JSON(http.StatusOK, set)
	case "csv":
		h.exportCSV(c, set)
	default:
		h.exportMarkdown(c, set)
	}
}

func (h *ExportHandler) exportCSV(c *gin.Context, set *service.SetDetail) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	// Header
	records := [][]string{{"en", "pl"}}
	for _, w := range set.Words {
		records = append(records, []string{w.En, w.Pl})
	}
	if err := writer.WriteAll(records); err != nil {
		response.Error(c, fmt.Errorf("write csv export: %w", err))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=set-%s.csv", set.ID))
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}

func (h *ExportHandler) exportMarkdown(c *gin.Context, set *service.SetDetail) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s (%s)\n\n", strings.Join(strings.Fields(set.Name), " "), set.Level)
	fmt.Fprintf(&buf, "**Created:** %s\n\n", set.CreatedAt.Format("2006-01-02 15:04:05"))

	buf.WriteString("| English | Polish |\n|---|---|\n")
	for _, w := range set.Words {
		fmt.Fprintf(&buf, "| %s | %s |\n", markdownCell(w.En), markdownCell(w.Pl))
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=set-%s.md", set.ID))
	c.Data(http.StatusOK, "text/markdown", buf.Bytes())
}

var markdownCellReplacer = strings.NewReplacer("\\", "\\\\", "|", "\\|", "\r", " ", "\n", " ")

// markdownCell keeps table cells on one row.
func markdownCell(s string) string {
	return markdownCellReplacer.Replace(s)
}
