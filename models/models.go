package models

import "strings"

// Post holds the key fields of a plebbit comment at the top level of a
// subplebbit. Optional fields are zero-valued when the feed entry omits them.
type Post struct {
	Cid               string `json:"cid"`
	Title             string `json:"title,omitempty"`
	Content           string `json:"content,omitempty"`
	Link              string `json:"link,omitempty"`
	SubplebbitAddress string `json:"subplebbitAddress"`
	Timestamp         int64  `json:"timestamp"`
	AuthorAddress     string `json:"authorAddress"`
	PreviousCid       string `json:"previousCid,omitempty"`
	Removed           bool   `json:"removed,omitempty"`
	Deleted           bool   `json:"deleted,omitempty"`
	Spoiler           bool   `json:"spoiler,omitempty"`
	NSFW              bool   `json:"nsfw,omitempty"`
}

// ContentWarned reports whether the post carries a content-warning flag.
func (p *Post) ContentWarned() bool {
	return p.Spoiler || p.NSFW
}

// Page is one page of a subplebbit's posts index.
type Page struct {
	Comments []*Post `json:"comments"`
	NextCid  string  `json:"nextCid,omitempty"`
}

// PostsIndex describes how a subplebbit exposes its posts: page cids keyed by
// sort name plus any preloaded pages.
type PostsIndex struct {
	PageCids map[string]string `json:"pageCids,omitempty"`
	Pages    map[string]*Page  `json:"pages,omitempty"`
}

// Subplebbit is the resolved handle for one community.
type Subplebbit struct {
	Address     string      `json:"address"`
	LastPostCid string      `json:"lastPostCid,omitempty"`
	Posts       *PostsIndex `json:"posts,omitempty"`
}

// CommentUpdate is the live moderation state for a comment. The feed copy of
// removed/deleted may be stale; this is the authoritative record.
type CommentUpdate struct {
	Removed   bool  `json:"removed,omitempty"`
	Deleted   bool  `json:"deleted,omitempty"`
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

// ShortAddress shortens crypto-hash addresses to their first 12 characters
// for display. Human-readable domain addresses are kept as is.
func ShortAddress(address string) string {
	if strings.Contains(address, ".") {
		return address
	}
	if len(address) > 12 {
		return address[:12]
	}
	return address
}
