package records

import (
	"github.com/celerix-dev/agricare/pkg/schema"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

// CropEntries returns the store for crop economics entries.
func CropEntries(db sdk.DocumentStore, opts ...Option) *Store[schema.CropEntry] {
	return New[schema.CropEntry](db, schema.CropEntries, opts...)
}

// DiseaseDetections returns the store for disease detections.
func DiseaseDetections(db sdk.DocumentStore, opts ...Option) *Store[schema.DiseaseDetection] {
	return New[schema.DiseaseDetection](db, schema.DiseaseDetections, opts...)
}

// TestItems returns the store for scratch test items.
func TestItems(db sdk.DocumentStore, opts ...Option) *Store[schema.TestItem] {
	return New[schema.TestItem](db, schema.TestItems, opts...)
}

// Users returns the store for user profiles. Every write also stamps lastUpdated.
func Users(db sdk.DocumentStore, opts ...Option) *Store[schema.UserProfile] {
	opts = append([]Option{WithStampedFields("lastUpdated")}, opts...)
	return New[schema.UserProfile](db, schema.Users, opts...)
}

// OwnedBy filters records belonging to userID.
func OwnedBy(userID string) sdk.Filter {
	return sdk.Where(FieldUserID, sdk.OpEq, userID)
}
