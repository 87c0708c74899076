package api

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/agricare/internal/records"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

// ownedRecord is a record that belongs to one user.
type ownedRecord interface {
	Owner() string
	Created() time.Time
}

type ownedPtr[T any] interface {
	*T
	SetOwner(userID string)
}

// readOnlyFields are never taken from a client patch.
var readOnlyFields = []string{records.FieldID, records.FieldCreatedAt, records.FieldUpdatedAt, "userId"}

// resource serves the CRUD routes of one collection, scoped to the caller.
type resource[T ownedRecord, PT ownedPtr[T]] struct {
	store    *records.Store[T]
	validate *records.Validator
	fail     func(*gin.Context, error)
	// derive recomputes server-side fields and returns them as a patch.
	derive func(PT) records.Patch
}

func (r resource[T, PT]) list(c *gin.Context) {
	items, err := r.store.List(c.Request.Context(), records.OwnedBy(uid(c)))
	if err != nil {
		r.fail(c, err)
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Created().After(items[j].Created())
	})
	c.JSON(http.StatusOK, items)
}

func (r resource[T, PT]) get(c *gin.Context) {
	item, err := r.owned(c)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (r resource[T, PT]) create(c *gin.Context) {
	var payload T
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, err)
		return
	}
	caller := uid(c)
	PT(&payload).SetOwner(caller)
	if r.derive != nil {
		r.derive(PT(&payload))
	}
	if err := r.validate.Struct(payload); err != nil {
		r.fail(c, err)
		return
	}

	created, err := r.store.Create(c.Request.Context(), payload, caller)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (r resource[T, PT]) update(c *gin.Context) {
	existing, err := r.owned(c)
	if err != nil {
		r.fail(c, err)
		return
	}

	var patch records.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	for _, f := range readOnlyFields {
		delete(patch, f)
	}

	merged, err := mergeInto(existing, patch)
	if err != nil {
		r.fail(c, err)
		return
	}
	if r.derive != nil {
		for k, v := range r.derive(PT(&merged)) {
			patch[k] = v
		}
	}
	if err := r.validate.Struct(merged); err != nil {
		r.fail(c, err)
		return
	}

	updated, err := r.store.Update(c.Request.Context(), c.Param("id"), patch, uid(c))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (r resource[T, PT]) remove(c *gin.Context) {
	item, found, err := r.store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return
	}
	// Deleting a missing record succeeds; someone else's record is invisible.
	if found && item.Owner() != uid(c) {
		r.fail(c, sdk.ErrNotFound)
		return
	}
	if err := r.store.Delete(c.Request.Context(), c.Param("id"), uid(c)); err != nil {
		r.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// owned loads the record named in the path and hides records of other users.
func (r resource[T, PT]) owned(c *gin.Context) (T, error) {
	var zero T
	item, found, err := r.store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		return zero, err
	}
	if !found || item.Owner() != uid(c) {
		return zero, sdk.ErrNotFound
	}
	return item, nil
}

// mergeInto overlays patch on existing and decodes the result, so the record
// can be validated as it will be stored.
func mergeInto[T any](existing T, patch records.Patch) (T, error) {
	var zero T
	base, err := sdk.Encode(existing)
	if err != nil {
		return zero, err
	}
	for k, v := range patch {
		base[k] = v
	}
	id, _ := base[records.FieldID].(string)
	merged, err := sdk.Decode[T](sdk.Document{ID: id, Data: base})
	if err != nil {
		return zero, records.NewValidationError("_", fmt.Sprintf("invalid field value: %v", err))
	}
	return merged, nil
}
