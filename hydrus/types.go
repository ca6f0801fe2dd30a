package hydrus

import (
	"errors"
	"fmt"
)

// Permission is one of the store's basic access key permissions.
type Permission int

const (
	PermImportURLs   Permission = 0
	PermImportFiles  Permission = 1
	PermEditTags     Permission = 2
	PermSearchFiles  Permission = 3
	PermManagePages  Permission = 4
	PermManageCookie Permission = 5
	PermManageDB     Permission = 6
	PermEditNotes    Permission = 7
	PermEditRelation Permission = 8
)

var permissionNames = map[Permission]string{
	PermImportURLs:   "import urls",
	PermImportFiles:  "import files",
	PermEditTags:     "edit file tags",
	PermSearchFiles:  "search and fetch files",
	PermManagePages:  "manage pages",
	PermManageCookie: "manage cookies",
	PermManageDB:     "manage database",
	PermEditNotes:    "edit file notes",
	PermEditRelation: "edit file relationships",
}

func (p Permission) String() string {
	if name, ok := permissionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("permission(%d)", int(p))
}

// AccessKeyInfo is the reply of /verify_access_key.
type AccessKeyInfo struct {
	BasicPermissions []Permission `json:"basic_permissions"`
	HumanDescription string       `json:"human_description"`
}

// Missing returns the permissions in required that the key does not grant,
// preserving the order of required.
func (a *AccessKeyInfo) Missing(required ...Permission) []Permission {
	granted := make(map[Permission]bool, len(a.BasicPermissions))
	for _, p := range a.BasicPermissions {
		granted[p] = true
	}
	var missing []Permission
	for _, p := range required {
		if !granted[p] {
			missing = append(missing, p)
		}
	}
	return missing
}

// ImportStatus is the status code returned by /add_files/add_file.
type ImportStatus int

const (
	StatusUnknown           ImportStatus = 0
	StatusSuccess           ImportStatus = 1
	StatusExists            ImportStatus = 2
	StatusPreviouslyDeleted ImportStatus = 3
	StatusFailed            ImportStatus = 4
	StatusVetoed            ImportStatus = 7
)

// Failed reports whether the file did not end up in the store.
func (s ImportStatus) Failed() bool {
	return s == StatusFailed || s == StatusVetoed
}

func (s ImportStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusExists:
		return "exists"
	case StatusPreviouslyDeleted:
		return "previously deleted"
	case StatusFailed:
		return "failed"
	case StatusVetoed:
		return "vetoed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// AddFileResult is the reply of /add_files/add_file.
type AddFileResult struct {
	Status ImportStatus `json:"status"`
	Hash   string       `json:"hash"`
	Note   string       `json:"note"`
}

// Service is a named service entry from /get_services.
type Service struct {
	Name       string `json:"name"`
	ServiceKey string `json:"service_key"`
	Type       int    `json:"type,omitempty"`
}

// Services groups services by category ("local_tags", "tag_repositories", ...).
type Services map[string][]Service

// tagCategories are searched in order when resolving a tag service by name.
var tagCategories = []string{"local_tags", "tag_repositories", "all_known_tags"}

// ErrServiceNotFound is returned when no tag service has the requested name.
var ErrServiceNotFound = errors.New("tag service not found")

// TagServiceKey returns the key of the tag service called name.
func (s Services) TagServiceKey(name string) (string, error) {
	for _, category := range tagCategories {
		for _, svc := range s[category] {
			if svc.Name == name {
				return svc.ServiceKey, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrServiceNotFound, name)
}

// ServiceTags holds a file's tags within one tag service, keyed by status
// ("0" current, "1" pending, ...).
type ServiceTags struct {
	StorageTags map[string][]string `json:"storage_tags"`
	DisplayTags map[string][]string `json:"display_tags"`
}

// FileMetadata is one entry of /get_files/file_metadata.
type FileMetadata struct {
	FileID *int64                 `json:"file_id"`
	Hash   string                 `json:"hash"`
	Mime   string                 `json:"mime,omitempty"`
	Width  int                    `json:"width,omitempty"`
	Height int                    `json:"height,omitempty"`
	Size   int64                  `json:"size,omitempty"`
	Tags   map[string]ServiceTags `json:"tags"`
}

// CurrentTags returns the current display tags under serviceKey.
func (m *FileMetadata) CurrentTags(serviceKey string) []string {
	return m.Tags[serviceKey].DisplayTags["0"]
}

// Known reports whether the store has indexed the file.
func (m *FileMetadata) Known() bool {
	return m.FileID != nil
}

// Relationship kinds accepted by /manage_file_relationships/set_file_relationships.
const (
	RelationPotential     = 0
	RelationFalsePositive = 1
	RelationSameQuality   = 2
	RelationAlternates    = 3
	RelationABetter       = 4
	RelationBBetter       = 7
)

// Relationship declares how file HashB relates to file HashA.
type Relationship struct {
	HashA                 string `json:"hash_a"`
	HashB                 string `json:"hash_b"`
	Relationship          int    `json:"relationship"`
	DoDefaultContentMerge bool   `json:"do_default_content_merge"`
}
