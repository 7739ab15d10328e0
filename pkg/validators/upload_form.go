package validators

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"bitwise74/media-api/internal/model"
)

const (
	maxTitleSize       = 255
	maxDescriptionSize = 5000
)

var validPrivacy = []model.Privacy{model.PrivacyPublic, model.PrivacyFollowers, model.PrivacyPrivate}

// UploadForm carries the non-file fields of an upload
type UploadForm struct {
	Title             string `form:"title"`
	Description       string `form:"description"`
	Category          string `form:"category"`
	Privacy           string `form:"privacy"`
	RelatedEntityType string `form:"related_entity_type"`
	RelatedEntityID   string `form:"related_entity_id"`
	ParentID          string `form:"parent_id"`
}

// Normalize trims the text fields and fills defaults
func (f *UploadForm) Normalize() {
	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	f.Privacy = strings.ToLower(strings.TrimSpace(f.Privacy))

	if f.Category == "" {
		f.Category = "other"
	}
	if f.Privacy == "" {
		f.Privacy = string(model.PrivacyPublic)
	}
}

func UploadFormValidator(f *UploadForm) error {
	if err := TextValidator(f.Title, f.Description); err != nil {
		return err
	}

	return PrivacyValidator(f.Privacy)
}

func TextValidator(title, description string) error {
	if utf8.RuneCountInString(title) > maxTitleSize {
		return invalid(ReasonInvalidField, fmt.Sprintf("title can't be longer than %d characters", maxTitleSize))
	}

	if utf8.RuneCountInString(description) > maxDescriptionSize {
		return invalid(ReasonInvalidField, fmt.Sprintf("description can't be longer than %d characters", maxDescriptionSize))
	}

	return nil
}

func PrivacyValidator(p string) error {
	if !slices.Contains(validPrivacy, model.Privacy(p)) {
		return invalid(ReasonInvalidField, "privacy must be one of public, followers or private")
	}

	return nil
}
