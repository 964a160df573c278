package domain

// ConcentrationLevel is the risk bucket derived from HHI.
type ConcentrationLevel string

const (
	ConcentrationHigh        ConcentrationLevel = "highly_concentrated"
	ConcentrationModerate    ConcentrationLevel = "moderately_concentrated"
	ConcentrationDiversified ConcentrationLevel = "diversified"
)

// ConcentrationSnapshot is always recomputed from an OwnershipSnapshot, never stored.
type ConcentrationSnapshot struct {
	AssetID                string             `json:"asset_id,omitempty"`
	HerfindahlIndex        float64            `json:"herfindahl_index"`
	GiniCoefficient        float64            `json:"gini_coefficient"`
	LargestOwnerPercentage float64            `json:"largest_owner_percentage"`
	LargestOwnerAddress    string             `json:"largest_owner_address"`
	OwnerCount             int                `json:"owner_count"`
	ConcentrationLevel     ConcentrationLevel `json:"concentration_level"`
}
