package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Tree is one of the three per-resource key spaces.
type Tree int

const (
	TreeContents Tree = iota
	TreeJSONLD
	TreeMetadata
)

const (
	ContentsDir = "data/contents"
	JSONLDDir   = ".hsjsonld"
	MetadataDir = ".hsmetadata"

	DocumentName       = "dataset_metadata.json"
	UserMetadataName   = "user_metadata.json"
	SystemMetadataName = "system_metadata.json"
	UserMetadataSuffix = "." + UserMetadataName
	DocumentSuffix     = ".json"
)

var treeDirs = map[Tree]string{
	TreeContents: ContentsDir,
	TreeJSONLD:   JSONLDDir,
	TreeMetadata: MetadataDir,
}

func (t Tree) String() string {
	switch t {
	case TreeContents:
		return "contents"
	case TreeJSONLD:
		return "jsonld"
	case TreeMetadata:
		return "metadata"
	}
	return "unknown"
}

// ErrLayout is returned for paths outside the resource layout.
var ErrLayout = errors.New("path is not inside a resource tree")

// Resource identifies one resource inside a bucket.
type Resource struct {
	Bucket string
	ID     string
}

// Path is a parsed "bucket/key" path. Rel is relative to the tree root and is
// empty for the tree root itself.
type Path struct {
	Resource
	Tree Tree
	Rel  string
}

// ParsePath splits "bucket/rid/<tree>/rel" into its parts.
func ParsePath(p string) (Path, error) {
	p = strings.Trim(p, "/")
	parts := strings.SplitN(p, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return Path{}, fmt.Errorf("%q: %w", p, ErrLayout)
	}
	res := Resource{Bucket: parts[0], ID: parts[1]}
	rest := parts[2]

	for _, tree := range []Tree{TreeContents, TreeJSONLD, TreeMetadata} {
		dir := treeDirs[tree]
		if rest == dir {
			return Path{Resource: res, Tree: tree}, nil
		}
		if strings.HasPrefix(rest, dir+"/") {
			rel, err := cleanRel(strings.TrimPrefix(rest, dir+"/"))
			if err != nil {
				return Path{}, fmt.Errorf("%q: %w", p, err)
			}
			return Path{Resource: res, Tree: tree, Rel: rel}, nil
		}
	}
	return Path{}, fmt.Errorf("%q: %w", p, ErrLayout)
}

func cleanRel(rel string) (string, error) {
	if rel == "" {
		return "", nil
	}
	cleaned := path.Clean(rel)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("relative path %q escapes tree: %w", rel, ErrLayout)
	}
	return cleaned, nil
}

func (p Path) String() string {
	return p.Resource.path(p.Tree, p.Rel)
}

func (r Resource) path(tree Tree, rel string) string {
	base := r.Bucket + "/" + r.ID + "/" + treeDirs[tree]
	if rel == "" {
		return base
	}
	return base + "/" + rel
}

// Prefix returns the listing prefix for a tree, with trailing slash.
func (r Resource) Prefix(tree Tree) string {
	return r.path(tree, "") + "/"
}

func (r Resource) Content(rel string) string  { return r.path(TreeContents, rel) }
func (r Resource) JSONLD(rel string) string   { return r.path(TreeJSONLD, rel) }
func (r Resource) Metadata(rel string) string { return r.path(TreeMetadata, rel) }

// DocumentPath is the resource-level JSON-LD document.
func (r Resource) DocumentPath() string { return r.JSONLD(DocumentName) }

// UserMetadataPath is the resource-level user metadata marker.
func (r Resource) UserMetadataPath() string { return r.Metadata(UserMetadataName) }

// SystemMetadataPath is the system metadata document.
func (r Resource) SystemMetadataPath() string { return r.Metadata(SystemMetadataName) }

// FolderMarker is the file-set marker of folder. The root folder maps to the
// resource user metadata marker.
func (r Resource) FolderMarker(folder string) string {
	return r.Metadata(path.Join(folder, UserMetadataName))
}

// FileMarker is the single-file marker of a content file.
func (r Resource) FileMarker(rel string) string {
	return r.Metadata(rel + UserMetadataSuffix)
}

// FolderDocument is the document of a folder-scoped aggregation. The root
// folder maps to the resource document.
func (r Resource) FolderDocument(folder string) string {
	return r.JSONLD(path.Join(folder, DocumentName))
}

// FileDocument is the document of a file-scoped aggregation.
func (r Resource) FileDocument(rel string) string {
	return r.JSONLD(rel + DocumentSuffix)
}

// RelOf returns the tree-relative part of a full path of this resource.
func (r Resource) RelOf(tree Tree, full string) (string, bool) {
	prefix := r.Prefix(tree)
	if !strings.HasPrefix(full, prefix) {
		return "", false
	}
	return strings.TrimPrefix(full, prefix), true
}

// ParentFolder returns the folder containing rel. The second value is false
// when rel is already the root sentinel ("").
func ParentFolder(rel string) (string, bool) {
	if rel == "" {
		return "", false
	}
	dir := path.Dir(rel)
	if dir == "." {
		return "", true
	}
	return dir, true
}

// Depth is the number of path segments in rel; the root has depth 0.
func Depth(rel string) int {
	if rel == "" {
		return 0
	}
	return strings.Count(rel, "/") + 1
}

// InFolder reports whether rel lies under folder. Everything lies under the root.
func InFolder(rel, folder string) bool {
	if folder == "" {
		return true
	}
	return strings.HasPrefix(rel, folder+"/")
}
