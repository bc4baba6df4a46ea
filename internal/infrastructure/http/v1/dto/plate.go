package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"labcontrol/internal/domain/lab"
)

// CreatePlateRequest for creating plates.
type CreatePlateRequest struct {
	Name       string `json:"name" binding:"required"`
	NumRows    int    `json:"numRows" binding:"required,min=1"`
	NumColumns int    `json:"numColumns" binding:"required,min=1"`
	CreatedBy  *int64 `json:"createdBy"`
}

// ToNewPlate converts to the domain input.
func (r *CreatePlateRequest) ToNewPlate() lab.NewPlate {
	return lab.NewPlate{
		Name:       r.Name,
		NumRows:    r.NumRows,
		NumColumns: r.NumColumns,
		CreatedBy:  r.CreatedBy,
	}
}

// ListPlatesRequest holds the query of GET /plates.
type ListPlatesRequest struct {
	PaginationRequest
	IncludeDiscarded bool `form:"includeDiscarded"`
}

// ToFilter converts to the domain filter.
func (r *ListPlatesRequest) ToFilter() lab.ListFilter {
	return lab.ListFilter{
		IncludeDiscarded: r.IncludeDiscarded,
		Limit:            r.Limit,
		Offset:           r.Offset,
	}
}

// WellResponse is one well of a plate.
type WellResponse struct {
	ID     int64  `json:"id"`
	Label  string `json:"label"`
	Row    int    `json:"row"`
	Column int    `json:"column"`
}

// PlateResponse represents a plate; Wells is only filled for single-plate reads.
type PlateResponse struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	NumRows    int            `json:"numRows"`
	NumColumns int            `json:"numColumns"`
	WellCount  int            `json:"wellCount"`
	CreatedBy  *int64         `json:"createdBy,omitempty"`
	Discarded  bool           `json:"discarded"`
	CreatedAt  time.Time      `json:"createdAt"`
	Wells      []WellResponse `json:"wells,omitempty"`
}

// FromPlate converts domain plate to DTO.
func FromPlate(p *lab.Plate) PlateResponse {
	resp := PlateResponse{
		ID:         p.ID,
		Name:       p.Name,
		NumRows:    p.NumRows,
		NumColumns: p.NumColumns,
		WellCount:  p.WellCount,
		CreatedBy:  p.CreatedBy,
		Discarded:  p.Discarded,
		CreatedAt:  p.CreatedAt,
	}
	if len(p.Wells) > 0 {
		resp.Wells = make([]WellResponse, len(p.Wells))
		for i, w := range p.Wells {
			resp.Wells[i] = WellResponse{ID: w.ID, Label: w.Label(), Row: w.Row, Column: w.Column}
		}
	}
	return resp
}

// FromPlates converts a page of plates.
func FromPlates(plates []lab.Plate) []PlateResponse {
	out := make([]PlateResponse, len(plates))
	for i := range plates {
		out[i] = FromPlate(&plates[i])
	}
	return out
}

// AddCompositionRequest dispenses a reagent into a well.
// Volume is in microliters and accepts a JSON number or string.
type AddCompositionRequest struct {
	Well    string          `json:"well" binding:"required"`
	Reagent string          `json:"reagent" binding:"required"`
	Volume  decimal.Decimal `json:"volume"`
}

// ToNewComposition converts to the domain input.
func (r *AddCompositionRequest) ToNewComposition() lab.NewComposition {
	return lab.NewComposition{
		Well:    r.Well,
		Reagent: r.Reagent,
		Volume:  r.Volume,
	}
}

// CompositionResponse represents a recorded composition.
type CompositionResponse struct {
	ID        int64           `json:"id"`
	WellID    int64           `json:"wellId"`
	Reagent   string          `json:"reagent"`
	Volume    decimal.Decimal `json:"volume"`
	CreatedAt time.Time       `json:"createdAt"`
}

// FromComposition converts domain composition to DTO.
func FromComposition(c *lab.Composition) CompositionResponse {
	return CompositionResponse{
		ID:        c.ID,
		WellID:    c.WellID,
		Reagent:   c.Reagent,
		Volume:    c.Volume,
		CreatedAt: c.CreatedAt,
	}
}

// VolumeResponse reports the reagent volume dispensed into a plate.
type VolumeResponse struct {
	PlateID     int64           `json:"plateId"`
	TotalVolume decimal.Decimal `json:"totalVolume"`
}
