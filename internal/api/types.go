package api

import "time"

// Item is a path-addressed resource returned by listing and lookup calls.
// Identity is Path. An Item is stale as soon as any mutating call touches
// its path; callers refetch instead of patching it locally.
type Item struct {
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	IsDir        bool              `json:"isDir"`
	IsSymlink    bool              `json:"isSymlink"`
	Size         int64             `json:"size"`
	Extension    string            `json:"extension"`
	Modified     time.Time         `json:"modified"`
	Type         string            `json:"type"`
	Token        string            `json:"token,omitempty"`
	Checksums    map[string]string `json:"checksums,omitempty"`
	PresignedURL string            `json:"presignedURL,omitempty"` // NEVER log
	PreviewURL   string            `json:"previewURL,omitempty"`
	Hash         string            `json:"hash,omitempty"` // share hash, public share listings only

	// Listing fields, present on directories.
	Items    []Item `json:"items,omitempty"`
	NumDirs  int    `json:"numDirs,omitempty"`
	NumFiles int    `json:"numFiles,omitempty"`

	// Computed client-side, never sent by the server.
	Index int    `json:"-"` // position within the parent listing
	URL   string `json:"-"` // UI route, /files{path} or /share{path}
}

// ChecksumAlgorithms lists the algorithms the checksum query accepts.
var ChecksumAlgorithms = []string{"md5", "sha1", "sha256", "sha512"}

// ValidChecksumAlgorithm reports whether algo is accepted by the checksum query.
func ValidChecksumAlgorithm(algo string) bool {
	for _, a := range ChecksumAlgorithms {
		if a == algo {
			return true
		}
	}

	return false
}
