// Package schema defines the record shapes stored in each AgriCare collection.
package schema

import "time"

// Collection names.
const (
	CropEntries       = "cropEntries"
	DiseaseDetections = "diseaseDetections"
	TestItems         = "test_items"
	ActivityLogs      = "activityLogs"
	Users             = "users"
)

// Meta carries the fields every record has. CreatedAt and UpdatedAt are
// assigned by the store and are nil on records that have not been read back.
type Meta struct {
	ID        string     `json:"id,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	UserID    string     `json:"userId,omitempty"`
}

// Owner returns the id of the user the record belongs to.
func (m Meta) Owner() string { return m.UserID }

// SetOwner assigns the record to userID.
func (m *Meta) SetOwner(userID string) { m.UserID = userID }

// Created returns the creation time, or the zero time when it is unknown.
func (m Meta) Created() time.Time {
	if m.CreatedAt == nil {
		return time.Time{}
	}
	return *m.CreatedAt
}

// CropStatus is the lifecycle state of a crop entry.
type CropStatus string

const (
	CropActive    CropStatus = "active"
	CropHarvested CropStatus = "harvested"
	CropFailed    CropStatus = "failed"
)

// CropEntry records the economics of one planting.
type CropEntry struct {
	Meta
	CropType       string     `json:"cropType" validate:"required"`
	LandArea       float64    `json:"landArea" validate:"gt=0"`
	PlantingDate   string     `json:"plantingDate" validate:"required"`
	SeedCost       float64    `json:"seedCost" validate:"gte=0"`
	FertilizerCost float64    `json:"fertilizerCost" validate:"gte=0"`
	LaborCost      float64    `json:"laborCost" validate:"gte=0"`
	OtherExpenses  float64    `json:"otherExpenses,omitempty" validate:"gte=0"`
	ExpectedYield  float64    `json:"expectedYield" validate:"gte=0"`
	ExpectedPrice  float64    `json:"expectedPrice" validate:"gte=0"`
	ExpectedProfit float64    `json:"expectedProfit"`
	Notes          string     `json:"notes,omitempty"`
	Status         CropStatus `json:"status" validate:"required,oneof=active harvested failed"`
	HarvestDate    string     `json:"harvestDate,omitempty"`
	ActualYield    float64    `json:"actualYield,omitempty"`
	ActualProfit   float64    `json:"actualProfit,omitempty"`
}

// TotalCost sums every expense of the entry.
func (c CropEntry) TotalCost() float64 {
	return c.SeedCost + c.FertilizerCost + c.LaborCost + c.OtherExpenses
}

// ComputeExpectedProfit returns expected revenue minus total cost.
func (c CropEntry) ComputeExpectedProfit() float64 {
	return c.ExpectedYield*c.ExpectedPrice - c.TotalCost()
}

// DetectionStatus is the state of a disease detection.
type DetectionStatus string

const (
	DetectionPending      DetectionStatus = "pending"
	DetectionIdentified   DetectionStatus = "identified"
	DetectionTreated      DetectionStatus = "treated"
	DetectionUnidentified DetectionStatus = "unidentified"
)

// TreatmentOutcome records how a treatment went.
type TreatmentOutcome string

const (
	OutcomeSuccessful          TreatmentOutcome = "successful"
	OutcomePartiallySuccessful TreatmentOutcome = "partially_successful"
	OutcomeUnsuccessful        TreatmentOutcome = "unsuccessful"
)

// DiseaseDetection is one diagnosis of a crop.
type DiseaseDetection struct {
	Meta
	CropType          string           `json:"cropType" validate:"required"`
	ImageURL          string           `json:"imageUrl,omitempty" validate:"omitempty,url"`
	DiseaseIdentified string           `json:"diseaseIdentified,omitempty"`
	Confidence        float64          `json:"confidence,omitempty" validate:"gte=0,lte=100"`
	Symptoms          []string         `json:"symptoms,omitempty"`
	Recommendations   []string         `json:"recommendations,omitempty"`
	Status            DetectionStatus  `json:"status" validate:"required,oneof=pending identified treated unidentified"`
	Notes             string           `json:"notes,omitempty"`
	TreatmentApplied  string           `json:"treatmentApplied,omitempty"`
	TreatmentDate     string           `json:"treatmentDate,omitempty"`
	TreatmentOutcome  TreatmentOutcome `json:"treatmentOutcome,omitempty" validate:"omitempty,oneof=successful partially_successful unsuccessful"`
}

// TestItem is the scratch record used to exercise the store end to end.
type TestItem struct {
	Meta
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
}
