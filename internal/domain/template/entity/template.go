package entity

import (
	"errors"
	"strings"
	"time"
)

// TemplateStatus is the activation state of a message template
type TemplateStatus string

const (
	TemplateStatusActive   TemplateStatus = "active"
	TemplateStatusInactive TemplateStatus = "inactive"
)

// VersionStatus is the review state of a template version
type VersionStatus string

const (
	VersionStatusLive     VersionStatus = "live"
	VersionStatusDraft    VersionStatus = "draft"
	VersionStatusRejected VersionStatus = "rejected"
)

// PlatformMetadata carries platform-specific template attributes
type PlatformMetadata struct {
	Category string `json:"category"`
}

// MessageTemplate is a pre-approved message that can be sent outside a
// conversation window
type MessageTemplate struct {
	ID                string           `json:"id"`
	WorkspaceID       string           `json:"workspaceID"`
	Name              string           `json:"name"`
	Status            TemplateStatus   `json:"status"`
	Platform          string           `json:"platform"`
	LiveVersionID     string           `json:"liveVersionID"`
	DraftVersionID    *string          `json:"draftVersionID"`
	PlatformReference string           `json:"platformReference"`
	PlatformMetadata  PlatformMetadata `json:"platformMetadata"`
	Content           string           `json:"content"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	PublishedAt       *time.Time       `json:"publishedAt,omitempty"`
}

// IsActive reports whether the template can be sent
func (t MessageTemplate) IsActive() bool {
	return t.Status == TemplateStatusActive
}

// TemplateBlock is one piece of template content
type TemplateBlock struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// TemplateContent is the localized content of a version
type TemplateContent struct {
	Locale    string          `json:"locale"`
	Blocks    []TemplateBlock `json:"blocks"`
	ChannelID string          `json:"channelID"`
}

// TemplateVersion is one revision of a template
type TemplateVersion struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspaceID"`
	Status      VersionStatus   `json:"status"`
	Content     TemplateContent `json:"content"`
	TemplateID  string          `json:"templateID"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Domain errors for templates
var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrEmptyName        = errors.New("template name cannot be empty")
	ErrNameTooLong      = errors.New("template name exceeds maximum length")
	ErrInvalidName      = errors.New("template name may contain only lowercase letters, digits and underscores")
	ErrEmptyPlatform    = errors.New("template platform cannot be empty")
	ErrEmptyCategory    = errors.New("template category cannot be empty")
	ErrEmptyUpdate      = errors.New("template update has no fields")
)

// MaxNameLength is the maximum length of a template name
const MaxNameLength = 512

// CreateTemplateInput is the payload for creating a template
type CreateTemplateInput struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Category string `json:"category"`
}

// Validate validates template fields
func (in CreateTemplateInput) Validate() error {
	if err := ValidateName(in.Name); err != nil {
		return err
	}
	if strings.TrimSpace(in.Platform) == "" {
		return ErrEmptyPlatform
	}
	if strings.TrimSpace(in.Category) == "" {
		return ErrEmptyCategory
	}
	return nil
}

// UpdateTemplateInput is a partial update; nil fields are left unchanged
type UpdateTemplateInput struct {
	Name     *string `json:"name,omitempty"`
	Platform *string `json:"platform,omitempty"`
	Category *string `json:"category,omitempty"`
	IsActive *bool   `json:"isActive,omitempty"`
}

// Validate validates the fields that are set
func (in UpdateTemplateInput) Validate() error {
	if in.Name == nil && in.Platform == nil && in.Category == nil && in.IsActive == nil {
		return ErrEmptyUpdate
	}
	if in.Name != nil {
		if err := ValidateName(*in.Name); err != nil {
			return err
		}
	}
	if in.Platform != nil && strings.TrimSpace(*in.Platform) == "" {
		return ErrEmptyPlatform
	}
	if in.Category != nil && strings.TrimSpace(*in.Category) == "" {
		return ErrEmptyCategory
	}
	return nil
}

// ValidateName checks a template name. Platforms require snake_case names.
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
		default:
			return ErrInvalidName
		}
	}
	return nil
}
