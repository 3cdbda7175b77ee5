package history

import (
	"sort"
	"strings"
)

// DefaultTargetLang is the language code assumed when a stored record does not
// carry one. The remote backend recognizes English and Simplified Chinese and
// the client translates into English unless told otherwise.
const DefaultTargetLang = "en"

// RetentionLimit is the number of records either engine keeps. Older records
// are evicted on insert once the limit is exceeded.
const RetentionLimit = 100

// Record is one completed recognition/translation outcome. Timestamp is an
// ISO-8601 string and the sole ordering key; IDs are caller generated.
// The JSON field names match the serialized form the mobile client has always
// written, so flat-engine blobs and API payloads stay interchangeable.
type Record struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	TranslatedText string  `json:"translated_text"`
	AnnotatedImage *string `json:"annotated_image"`
	Confidence     float64 `json:"confidence"`
	Engine         string  `json:"engine"`
	TargetLang     string  `json:"target_lang"`
	Timestamp      string  `json:"timestamp"`
}

// Normalize fills defaults for optional fields so callers never branch on
// which engine a record came from. Applied after every read. Present values
// pass through untouched, even out-of-range ones; stored records read back
// field for field.
func (r *Record) Normalize() {
	if r == nil {
		return
	}
	if r.TargetLang == "" {
		r.TargetLang = DefaultTargetLang
	}
	if r.AnnotatedImage != nil && *r.AnnotatedImage == "" {
		r.AnnotatedImage = nil
	}
}

// Validate checks the two fields an upsert cannot do without: the primary key
// and the ordering key. Everything else is stored as supplied.
func (r *Record) Validate() error {
	if r == nil {
		return newWriteError("record is nil", nil)
	}
	if r.ID == "" {
		return newWriteError("record id is empty", nil)
	}
	if r.Timestamp == "" {
		return newWriteError("record timestamp is empty", nil)
	}
	return nil
}

// matchesLower reports whether the record contains the already-lowercased
// query as a substring of its recognized or translated text.
func (r *Record) matchesLower(queryLower string) bool {
	return strings.Contains(strings.ToLower(r.Text), queryLower) ||
		strings.Contains(strings.ToLower(r.TranslatedText), queryLower)
}

// sortRecordsDesc orders records newest first. The id tiebreak keeps the
// order stable across engines when timestamps collide.
func sortRecordsDesc(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp > records[j].Timestamp
		}
		return records[i].ID > records[j].ID
	})
}
