package remote

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	typeEntry        = "Entry"
	typeAsset        = "Asset"
	typeDeletedEntry = "DeletedEntry"
	typeDeletedAsset = "DeletedAsset"
	typeLink         = "Link"
)

type syncResponse struct {
	Items       []syncItem `json:"items"`
	NextPageURL string     `json:"nextPageUrl"`
	NextSyncURL string     `json:"nextSyncUrl"`
}

type sysLink struct {
	Sys struct {
		ID string `json:"id"`
	} `json:"sys"`
}

type syncItem struct {
	Sys struct {
		ID          string    `json:"id"`
		Type        string    `json:"type"`
		CreatedAt   time.Time `json:"createdAt"`
		UpdatedAt   time.Time `json:"updatedAt"`
		ContentType *sysLink  `json:"contentType"`
	} `json:"sys"`
	Fields map[string]map[string]any `json:"fields"`
}

func (r syncResponse) page() (*models.SyncPage, error) {
	page := &models.SyncPage{}

	for _, item := range r.Items {
		switch item.Sys.Type {
		case typeEntry:
			record := item.record()
			if item.Sys.ContentType != nil {
				record.ContentTypeID = item.Sys.ContentType.Sys.ID
			}
			page.Entries = append(page.Entries, record)
		case typeAsset:
			record := item.record()
			flattenFile(record.Fields)
			page.Assets = append(page.Assets, record)
		case typeDeletedEntry:
			page.DeletedEntries = append(page.DeletedEntries, item.Sys.ID)
		case typeDeletedAsset:
			page.DeletedAssets = append(page.DeletedAssets, item.Sys.ID)
		}
	}

	if r.NextSyncURL != "" {
		token, err := syncToken(r.NextSyncURL)
		if err != nil {
			return nil, err
		}
		page.NextSyncToken = token
	}
	return page, nil
}

func (item syncItem) record() models.RemoteRecord {
	fields := make(map[string]map[string]any, len(item.Fields))
	for name, locales := range item.Fields {
		values := make(map[string]any, len(locales))
		for locale, value := range locales {
			values[locale] = decodeValue(value)
		}
		fields[name] = values
	}
	return models.RemoteRecord{
		ID:        item.Sys.ID,
		CreatedAt: item.Sys.CreatedAt,
		UpdatedAt: item.Sys.UpdatedAt,
		Fields:    fields,
	}
}

// decodeValue turns link objects into models.Link and arrays of links into []models.Link.
func decodeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		if link, ok := asLink(v); ok {
			return link
		}
	case []any:
		if len(v) == 0 {
			return v
		}
		links := make([]models.Link, 0, len(v))
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return v
			}
			link, ok := asLink(obj)
			if !ok {
				return v
			}
			links = append(links, link)
		}
		return links
	}
	return value
}

func asLink(value map[string]any) (models.Link, bool) {
	sys, ok := value["sys"].(map[string]any)
	if !ok || sys["type"] != typeLink {
		return models.Link{}, false
	}
	id, _ := sys["id"].(string)
	linkType, _ := sys["linkType"].(string)
	return models.Link{ID: id, LinkType: linkType}, id != ""
}

// flattenFile spreads the asset "file" object into the plain asset properties.
func flattenFile(fields map[string]map[string]any) {
	files, ok := fields["file"]
	if !ok {
		return
	}
	set := func(name, locale string, value any) {
		if value == nil {
			return
		}
		if fields[name] == nil {
			fields[name] = make(map[string]any)
		}
		fields[name][locale] = value
	}

	for locale, raw := range files {
		file, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		set("url", locale, file["url"])
		set("fileName", locale, file["fileName"])
		set("contentType", locale, file["contentType"])
		details, _ := file["details"].(map[string]any)
		set("size", locale, details["size"])
		image, _ := details["image"].(map[string]any)
		set("width", locale, image["width"])
		set("height", locale, image["height"])
	}
	delete(fields, "file")
}

func syncToken(nextSyncURL string) (string, error) {
	parsed, err := url.Parse(nextSyncURL)
	if err != nil {
		return "", fmt.Errorf("invalid nextSyncUrl: %w", err)
	}
	token := parsed.Query().Get("sync_token")
	if token == "" {
		return "", fmt.Errorf("nextSyncUrl has no sync_token: %s", nextSyncURL)
	}
	return token, nil
}
