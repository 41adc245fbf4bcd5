package models

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/TFMV/arbor/pkg/errors"
)

// Plant is the logical entity stored by every backend.
type Plant struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	LatinName     string        `json:"latin_name"`
	Description   string        `json:"description"`
	Category      Category      `json:"category"`
	MainPhotoID   uuid.UUID     `json:"main_photo_id"`
	Specification Specification `json:"specification"`
}

// Validate checks the structural invariants of the plant. Failures are
// reported as ValidationError.
func (p *Plant) Validate() error {
	if p == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "plant is nil")
	}
	if p.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "plant id is empty")
	}
	if p.MainPhotoID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "main photo id is empty").
			WithDetail("plant_id", p.ID.String())
	}
	if !p.Category.Valid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown category %q", p.Category).
			WithDetail("plant_id", p.ID.String())
	}
	if p.Specification == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "specification is missing").
			WithDetail("plant_id", p.ID.String())
	}
	if got := p.Specification.Category(); got != p.Category {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "specification is %s but plant category is %s", got, p.Category).
			WithDetail("plant_id", p.ID.String())
	}
	if err := p.Specification.Validate(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeValidation, "invalid specification").
			WithDetail("plant_id", p.ID.String())
	}
	return nil
}

// MainPhoto returns the file reference created alongside the plant.
func (p *Plant) MainPhoto() File {
	return NewPhotoFile(p.MainPhotoID)
}

// ValidateAll validates every plant of a batch.
func ValidateAll(plants []*Plant) error {
	for i, p := range plants {
		if err := p.Validate(); err != nil {
			var coded *pkgerrors.Error
			if errors.As(err, &coded) {
				coded.WithDetail("batch_index", i)
			}
			return err
		}
	}
	return nil
}

// File is a stored file reference.
type File struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	URL  string    `json:"url"`
}

// NewPhotoFile builds the file reference for a photo id. Name and location are
// the dashless id with a .jpg suffix.
func NewPhotoFile(id uuid.UUID) File {
	key := strings.ReplaceAll(id.String(), "-", "") + ".jpg"
	return File{ID: id, Name: key, URL: key}
}
