package document

import (
	"encoding/json"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	recentSessionKey = "recent_documents"
	recentLimit      = 10
	statusExpired    = "expired"
)

type recentEntry struct {
	FileID       string    `json:"fileId"`
	OriginalName string    `json:"originalName"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// The list is stored as a JSON string so the cookie codec needs no type registration.
func loadRecent(c *gin.Context) []recentEntry {
	raw, ok := sessions.Default(c).Get(recentSessionKey).(string)
	if !ok || raw == "" {
		return nil
	}
	var entries []recentEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}
	return entries
}

func rememberUpload(c *gin.Context, svc *Service, sub *Submission) {
	entries := append([]recentEntry{{
		FileID:       sub.FileID,
		OriginalName: sub.OriginalName,
		UploadedAt:   time.Now().UTC(),
	}}, loadRecent(c)...)
	if len(entries) > recentLimit {
		entries = entries[:recentLimit]
	}

	data, err := json.Marshal(entries)
	if err != nil {
		svc.logger.Printf("recent documents not saved: %v", err)
		return
	}
	session := sessions.Default(c)
	session.Set(recentSessionKey, string(data))
	if err := session.Save(); err != nil {
		svc.logger.Printf("recent documents not saved: %v", err)
	}
}
