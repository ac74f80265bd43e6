// Package content holds content records and the committer that writes them
// to the metadata store once their media is safely uploaded.
package content

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/maauso/media-ingest/internal/media"
)

// Type is a content type tag supplied by the client.
type Type string

const (
	// TypePost is a photo or short video post.
	TypePost Type = "post"
	// TypeTrack is an audio submission. Tracks are moderated.
	TypeTrack Type = "track"
	// TypeNote is a text-only post.
	TypeNote Type = "note"
)

// Types lists every known content type.
var Types = []Type{TypePost, TypeTrack, TypeNote}

// IsValid returns true if the type is known.
func (t Type) IsValid() bool {
	return slices.Contains(Types, t)
}

// RequiresMedia reports whether a record of this type needs an uploaded asset.
func (t Type) RequiresMedia() bool {
	return t == TypePost || t == TypeTrack
}

// Moderated reports whether new records start as pending.
func (t Type) Moderated() bool {
	return t == TypeTrack
}

// AcceptedKinds returns the media kinds this type can carry.
func (t Type) AcceptedKinds() []media.Kind {
	switch t {
	case TypePost:
		return []media.Kind{media.KindImage, media.KindVideo}
	case TypeTrack:
		return []media.Kind{media.KindAudio}
	default:
		return nil
	}
}

// Status is the visibility status of a record.
type Status string

const (
	// StatusPending records wait for moderation.
	StatusPending Status = "pending"
	// StatusPublished records are visible.
	StatusPublished Status = "published"
	// StatusRemoved records were taken down and no longer count as duplicates.
	StatusRemoved Status = "removed"
)

// LiveStatuses are the statuses considered when looking for duplicates.
var LiveStatuses = []Status{StatusPending, StatusPublished}

// Counters are the engagement counters kept on a record.
type Counters struct {
	Likes    int64 `bson:"likes" json:"likes"`
	Comments int64 `bson:"comments" json:"comments"`
	Plays    int64 `bson:"plays" json:"plays"`
}

// Record is a committed piece of content.
type Record struct {
	ID          string     `bson:"_id" json:"id"`
	Type        Type       `bson:"type" json:"type"`
	OwnerID     string     `bson:"owner_id" json:"owner_id"`
	Title       string     `bson:"title,omitempty" json:"title,omitempty"`
	Author      string     `bson:"author,omitempty" json:"author,omitempty"`
	Caption     string     `bson:"caption,omitempty" json:"caption,omitempty"`
	TitleKey    string     `bson:"title_key,omitempty" json:"-"`
	AuthorKey   string     `bson:"author_key,omitempty" json:"-"`
	MediaRef    string     `bson:"media_ref,omitempty" json:"media_ref,omitempty"`
	StoragePath string     `bson:"storage_path,omitempty" json:"storage_path,omitempty"`
	MediaKind   media.Kind `bson:"media_kind,omitempty" json:"media_kind,omitempty"`
	Status      Status     `bson:"status" json:"status"`
	Showcase    bool       `bson:"showcase" json:"showcase"`
	Counters    Counters   `bson:"counters" json:"counters"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
}

// Draft is the user input for a record that has not been committed yet.
type Draft struct {
	Type     Type
	OwnerID  string
	Title    string
	Author   string
	Caption  string
	Showcase bool
}

// TitleKey returns the normalized title used for duplicate detection.
func (d Draft) TitleKey() string {
	return NormalizeKey(d.Title)
}

// AuthorKey returns the normalized author used for duplicate detection.
func (d Draft) AuthorKey() string {
	return NormalizeKey(d.Author)
}

// Media is the uploaded asset attached to a record.
type Media struct {
	StoragePath string
	Ref         string
	Kind        media.Kind
}

var folder = cases.Fold()

// NormalizeKey folds case, applies NFKC and collapses whitespace so that
// "Blue  Moon" and "blue moon" compare equal.
func NormalizeKey(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)
	return strings.Join(strings.Fields(s), " ")
}
