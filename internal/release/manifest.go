// Package release describes a finished deploy as a manifest, stores it next
// to the site and points the serving side at it through SSM.
package release

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/keithlinneman/sitedeploy/internal/deploy"
	"github.com/keithlinneman/sitedeploy/internal/headers"
	"github.com/keithlinneman/sitedeploy/internal/version"
)

const SchemaVersion = 1

type Entry struct {
	Key             string `json:"key"`
	SHA256          string `json:"sha256"`
	Size            int    `json:"size"`
	CacheControl    string `json:"cache_control"`
	ContentType     string `json:"content_type,omitempty"`
	ContentEncoding string `json:"content_encoding,omitempty"`
}

type Manifest struct {
	Schema     int       `json:"schema"`
	DeployID   string    `json:"deploy_id"`
	SiteURL    string    `json:"site_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Tool       string    `json:"tool"`
	Version    string    `json:"version"`
	Commit     string    `json:"commit,omitempty"`
	Files      []Entry   `json:"files"`
	TotalBytes int64     `json:"total_bytes"`
}

// FromReport lists every file of rep that is live after the batch, uploaded
// now or skipped as unchanged. Failed files are left out.
func FromReport(rep *deploy.Report, siteURL string, vi version.Info, now time.Time) Manifest {
	m := Manifest{
		Schema:    SchemaVersion,
		DeployID:  rep.ID,
		SiteURL:   siteURL,
		CreatedAt: now.UTC(),
		Tool:      vi.AppName,
		Version:   vi.Version,
		Commit:    vi.Commit,
		Files:     []Entry{},
	}
	for _, fr := range rep.Files {
		if fr.Err != nil {
			continue
		}
		m.Files = append(m.Files, Entry{
			Key:             fr.Key,
			SHA256:          fr.SHA256,
			Size:            fr.Size,
			CacheControl:    fr.CacheControl,
			ContentType:     fr.Headers[headers.ContentType],
			ContentEncoding: fr.Headers[headers.ContentEncoding],
		})
		m.TotalBytes += int64(fr.Size)
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Key < m.Files[j].Key })
	return m
}

// Encode renders m as indented JSON with a trailing newline
func (m Manifest) Encode() ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
