package models

import (
	"encoding/json"
	"fmt"
)

// RootDimensions are the A, B, C, D measurements (cm) of the root ball.
type RootDimensions struct {
	A *float64 `json:"A" yaml:"A"`
	B *float64 `json:"B" yaml:"B"`
	C *float64 `json:"C" yaml:"C"`
	D *float64 `json:"D" yaml:"D"`
}

// LayoutDetails describes the planting layout. IB (twin-row spacing) is only
// set for twin-row layouts.
type LayoutDetails struct {
	NumberOfRows *int     `json:"number_of_rows" yaml:"number_of_rows"`
	IF           *float64 `json:"IF" yaml:"IF"`
	IP           *float64 `json:"IP" yaml:"IP"`
	IB           *float64 `json:"IB" yaml:"IB"`
}

// RaisedBedDetails holds the raised bed measurements (cm).
type RaisedBedDetails struct {
	AT *float64 `json:"AT" yaml:"AT"`
	LT *float64 `json:"LT" yaml:"LT"`
	IT *float64 `json:"IT" yaml:"IT"`
	ST *float64 `json:"ST" yaml:"ST"`
}

// MulchDetails holds the mulch film width (cm).
type MulchDetails struct {
	LP *float64 `json:"LP" yaml:"LP"`
}

// ConfigurationData is the configuration accumulated for one conversation.
// A nil pointer or nil slice means the value was never collected; an empty
// accessory slice means the user selected nothing.
type ConfigurationData struct {
	// Phase 1: plant
	CropType       *string         `json:"crop_type" yaml:"crop_type"`
	RootType       *string         `json:"root_type" yaml:"root_type"`
	RootDimensions *RootDimensions `json:"root_dimensions" yaml:"root_dimensions"`

	// Phase 2: planting layout
	RowType       *string        `json:"row_type" yaml:"row_type"`
	LayoutDetails *LayoutDetails `json:"layout_details" yaml:"layout_details"`

	// Phase 3: environment
	Environment      *string           `json:"environment" yaml:"environment"`
	IsRaisedBed      *bool             `json:"is_raised_bed" yaml:"is_raised_bed"`
	RaisedBedDetails *RaisedBedDetails `json:"raised_bed_details" yaml:"raised_bed_details"`
	IsMulch          *bool             `json:"is_mulch" yaml:"is_mulch"`
	MulchDetails     *MulchDetails     `json:"mulch_details" yaml:"mulch_details"`
	SoilType         *string           `json:"soil_type" yaml:"soil_type"`

	// Phase 4: tractor
	WheelDistance *float64 `json:"wheel_distance" yaml:"wheel_distance"`
	TractorHP     *int     `json:"tractor_hp" yaml:"tractor_hp"`

	// Phase 5: accessories
	AccessoriesPrimary   []string `json:"accessories_primary" yaml:"accessories_primary"`
	AccessoriesSecondary []string `json:"accessories_secondary" yaml:"accessories_secondary"`
	AccessoriesElement   []string `json:"accessories_element" yaml:"accessories_element"`

	// Phase 6: closing
	UserNotes    *string `json:"user_notes" yaml:"user_notes"`
	IsInterested *bool   `json:"is_interested" yaml:"is_interested"`
	ContactEmail *string `json:"contact_email" yaml:"contact_email"`
	VATNumber    *string `json:"vat_number" yaml:"vat_number"`

	Complete bool `json:"is_complete" yaml:"is_complete"`
}

// ConfigurationUpdate is a partial write to ConfigurationData. Only non-nil
// fields are written; everything else is left untouched by the merge.
type ConfigurationUpdate struct {
	CropType       *string         `json:"crop_type,omitempty"`
	RootType       *string         `json:"root_type,omitempty"`
	RootDimensions *RootDimensions `json:"root_dimensions,omitempty"`

	RowType       *string        `json:"row_type,omitempty"`
	LayoutDetails *LayoutDetails `json:"layout_details,omitempty"`

	Environment      *string           `json:"environment,omitempty"`
	IsRaisedBed      *bool             `json:"is_raised_bed,omitempty"`
	RaisedBedDetails *RaisedBedDetails `json:"raised_bed_details,omitempty"`
	IsMulch          *bool             `json:"is_mulch,omitempty"`
	MulchDetails     *MulchDetails     `json:"mulch_details,omitempty"`
	SoilType         *string           `json:"soil_type,omitempty"`

	WheelDistance *float64 `json:"wheel_distance,omitempty"`
	TractorHP     *int     `json:"tractor_hp,omitempty"`

	AccessoriesPrimary   *[]string `json:"accessories_primary,omitempty"`
	AccessoriesSecondary *[]string `json:"accessories_secondary,omitempty"`
	AccessoriesElement   *[]string `json:"accessories_element,omitempty"`

	UserNotes    *string `json:"user_notes,omitempty"`
	IsInterested *bool   `json:"is_interested,omitempty"`
	ContactEmail *string `json:"contact_email,omitempty"`
	VATNumber    *string `json:"vat_number,omitempty"`

	Complete *bool `json:"is_complete,omitempty"`
}

// MergePatch renders the update as an RFC 7396 merge patch document.
//
// A gate set to false also emits an explicit null for its sub-record, so a
// raised bed or mulch record can never outlive its gating boolean.
func (u ConfigurationUpdate) MergePatch() ([]byte, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration update: %w", err)
	}
	if !gateClosed(u.IsRaisedBed) && !gateClosed(u.IsMulch) {
		return raw, nil
	}

	doc := make(map[string]interface{})
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode configuration update: %w", err)
	}
	if gateClosed(u.IsRaisedBed) {
		doc["raised_bed_details"] = nil
	}
	if gateClosed(u.IsMulch) {
		doc["mulch_details"] = nil
	}
	return json.Marshal(doc)
}

// IsEmpty reports whether the update writes nothing.
func (u ConfigurationUpdate) IsEmpty() bool {
	return u == ConfigurationUpdate{}
}

func gateClosed(b *bool) bool {
	return b != nil && !*b
}
