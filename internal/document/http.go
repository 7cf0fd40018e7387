package document

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/jobs"
)

const uploadField = "pdfFile"

// uploadSlack leaves room for multipart framing around the file itself.
const uploadSlack = 1 << 20

// HandlerOptions configures the document routes.
type HandlerOptions struct {
	// MaxUploadBytes caps the request body of uploads. Zero disables the cap.
	MaxUploadBytes int64
}

// RegisterRoutes mounts the document API on group (usually /api/document).
// The session middleware must be installed on the router.
func RegisterRoutes(group *gin.RouterGroup, svc *Service, opts HandlerOptions) {
	group.POST("/upload", UploadHandler(svc, opts))
	group.GET("/status/:fileId", StatusHandler(svc))
	group.POST("/ask", AskHandler(svc))
	group.GET("/recent", RecentHandler(svc))
}

// UploadHandler returns the handler for POST /upload.
func UploadHandler(svc *Service, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.MaxUploadBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, opts.MaxUploadBytes+uploadSlack)
		}

		header, err := c.FormFile(uploadField)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"code":    "LIMIT_EXCEEDED",
					"message": "File exceeds the upload size limit.",
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "No PDF file uploaded.",
			})
			return
		}

		file, err := header.Open()
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer file.Close()

		sub, err := svc.Upload(c.Request.Context(), header.Filename, file)
		if err != nil {
			respondWithError(c, err)
			return
		}

		rememberUpload(c, svc, sub)
		c.JSON(http.StatusAccepted, gin.H{
			"message": "File received and queued for processing.",
			"fileId":  sub.FileID,
			"jobId":   sub.JobID,
		})
	}
}

// StatusHandler returns the handler for GET /status/:fileId.
func StatusHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileID := strings.TrimSpace(c.Param("fileId"))
		record, err := svc.Status(fileID)
		if err != nil {
			respondWithError(c, err)
			return
		}

		payload := gin.H{
			"status":       record.Status,
			"originalName": record.OriginalName,
			"message":      statusMessage(record.Status),
			"lastUpdated":  record.LastUpdated,
		}
		if record.Pages > 0 {
			payload["pages"] = record.Pages
		}
		switch record.Status {
		case jobs.StatusProcessed:
			payload["blocks"] = record.Blocks
		case jobs.StatusFailed:
			payload["error"] = record.Error
		}
		c.JSON(http.StatusOK, payload)
	}
}

// AskHandler returns the handler for POST /ask.
func AskHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, errMissingAskFields)
			return
		}

		answer, err := svc.Ask(c.Request.Context(), req)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"response": answer})
	}
}

// RecentHandler returns the handler for GET /recent: the documents uploaded in
// this browser session, newest first, with their current status.
func RecentHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries := loadRecent(c)
		items := make([]gin.H, 0, len(entries))
		for _, e := range entries {
			status := statusExpired
			if record, err := svc.jobs.QueryStatus(e.FileID); err == nil {
				status = string(record.Status)
			}
			items = append(items, gin.H{
				"fileId":       e.FileID,
				"originalName": e.OriginalName,
				"uploadedAt":   e.UploadedAt,
				"status":       status,
			})
		}
		c.JSON(http.StatusOK, gin.H{"documents": items})
	}
}

func statusMessage(status jobs.Status) string {
	switch status {
	case jobs.StatusProcessed:
		return "Processing complete. Ready to visualize and ask."
	case jobs.StatusFailed:
		return "Processing failed."
	case jobs.StatusProcessing:
		return "File is currently being processed by GROBID."
	case jobs.StatusQueued:
		return "File is waiting in the queue for processing."
	}
	return ""
}
