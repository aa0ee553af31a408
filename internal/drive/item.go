// Package drive talks to a Microsoft Graph drive: it lists folders, fetches
// and writes file content, and resolves share links.
package drive

import (
	"fmt"
	"strings"
)

// Kind says whether an item is a file, a folder, or neither.
type Kind int

const (
	KindUnknown Kind = iota
	KindFile
	KindFolder
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	default:
		return "unknown"
	}
}

// ItemRef identifies an item within a drive.
type ItemRef struct {
	DriveID string
	ID      string
	Kind    Kind
}

// Path returns the canonical item path /drives/{driveId}/items/{id}.
func (r ItemRef) Path() string {
	return "/drives/" + r.DriveID + "/items/" + r.ID
}

func (r ItemRef) String() string { return r.Path() }

// ParseItemPath is the inverse of ItemRef.Path. The returned ref has
// KindUnknown.
func ParseItemPath(p string) (ItemRef, error) {
	parts := strings.Split(p, "/")
	if len(parts) != 5 || parts[0] != "" || parts[1] != "drives" || parts[3] != "items" ||
		parts[2] == "" || parts[4] == "" {
		return ItemRef{}, fmt.Errorf("invalid item path %q: want /drives/{driveId}/items/{id}", p)
	}
	return ItemRef{DriveID: parts[2], ID: parts[4]}, nil
}

// Item is an entry of a folder listing.
type Item struct {
	Name string
	Ref  ItemRef
}

// IsFolder reports whether the item is a folder.
func (it Item) IsFolder() bool { return it.Ref.Kind == KindFolder }

// User is the signed-in account.
type User struct {
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
}
