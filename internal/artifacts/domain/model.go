package domain

import (
	"strconv"
	"strings"
	"time"
)

const (
	// MaxArtifacts is the number of slots each owner gets.
	MaxArtifacts = 3
	// MaxArtifactSize caps a single upload and every file extracted from it.
	MaxArtifactSize = 1 << 20
)

// Artifact is one stored executable owned by a user.
type Artifact struct {
	Key        string    `json:"key"`
	OwnerID    int64     `json:"owner_id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ArtifactRef describes the outcome of a single upload. Archives produce
// one key per extracted file.
type ArtifactRef struct {
	UploadName string   `json:"upload_name"`
	Keys       []string `json:"keys"`
	Size       int64    `json:"size"`
	Archive    bool     `json:"archive"`
}

// UploadRecord is an append-only audit entry.
type UploadRecord struct {
	ID           string    `json:"id"`
	OwnerID      int64     `json:"owner_id"`
	ArtifactName string    `json:"artifact_name"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// OwnerPrefix is the filename prefix of every artifact belonging to owner.
func OwnerPrefix(ownerID int64) string {
	return strconv.FormatInt(ownerID, 10) + "_"
}

// Key builds the composite "{owner}_{name}" identifier.
func Key(ownerID int64, name string) string {
	return OwnerPrefix(ownerID) + name
}

// OwnedBy reports whether key lives in the owner's namespace and is a plain
// file name.
func OwnedBy(ownerID int64, key string) bool {
	prefix := OwnerPrefix(ownerID)
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return false
	}
	return ValidName(key)
}

// ValidName rejects anything that is not a single path element.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return true
}
