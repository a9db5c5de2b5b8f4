package models

import "time"

type Category string

const (
	CategoryBefore   Category = "before"
	CategoryDuring   Category = "during"
	CategoryAfter    Category = "after"
	CategoryDetail   Category = "detail"
	CategoryOverview Category = "overview"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryBefore, CategoryDuring, CategoryAfter, CategoryDetail, CategoryOverview}

func (c Category) Valid() bool {
	switch c {
	case CategoryBefore, CategoryDuring, CategoryAfter, CategoryDetail, CategoryOverview:
		return true
	}
	return false
}

type UploadState string

const (
	UploadStaged    UploadState = "staged"
	UploadUploading UploadState = "uploading"
	UploadUploaded  UploadState = "uploaded"
	UploadFailed    UploadState = "failed"
)

// StagedAsset is a locally held photo waiting to be uploaded.
// RemoteRef is only set while UploadState is UploadUploaded.
type StagedAsset struct {
	ID           string      `json:"id"`
	Content      []byte      `json:"-"`
	ContentType  string      `json:"contentType"`
	Preview      string      `json:"-"`
	Category     Category    `json:"category"`
	Description  string      `json:"description"`
	UploadState  UploadState `json:"uploadState"`
	RemoteRef    string      `json:"remoteRef,omitempty"`
	UploadError  string      `json:"uploadError,omitempty"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	Size         int64       `json:"size"`
	OriginalSize int64       `json:"originalSize"`
	Checksum     string      `json:"checksum"`
	CapturedAt   time.Time   `json:"capturedAt"`
}

type SignerRole string

const (
	SignerCustomer  SignerRole = "customer"
	SignerInstaller SignerRole = "installer"
)

// SignerRoles is the fixed set of roles required to authorize a completion.
var SignerRoles = []SignerRole{SignerCustomer, SignerInstaller}

func (r SignerRole) Valid() bool {
	return r == SignerCustomer || r == SignerInstaller
}

// SignatureArtifact is a rendered signature: PNG raster plus the equivalent SVG path.
type SignatureArtifact struct {
	Role        SignerRole `json:"role"`
	Content     []byte     `json:"-"`
	ContentType string     `json:"contentType"`
	SVG         string     `json:"svg"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	CapturedAt  time.Time  `json:"capturedAt"`
}

// Empty reports whether the artifact carries no rendered content.
func (s SignatureArtifact) Empty() bool {
	return len(s.Content) == 0
}
