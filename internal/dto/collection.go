package dto

import "github.com/noah-isme/prepmint-api/internal/collection"

// CollectionListResponse wraps one page of records.
type CollectionListResponse struct {
	Items  []collection.Record `json:"items"`
	Search string              `json:"search,omitempty"`
}

// BulkDeleteRequest captures POST /collections/:source/bulk-delete payload.
type BulkDeleteRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
}

// BulkDeleteOutcome reports one id of a bulk delete.
type BulkDeleteOutcome struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// BulkDeleteResponse lists per-id outcomes in request order.
type BulkDeleteResponse struct {
	Outcomes  []BulkDeleteOutcome `json:"outcomes"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

// CollectionChange is the payload of one server-sent change event.
type CollectionChange struct {
	Op     collection.ChangeOp `json:"op"`
	ID     string              `json:"id"`
	Record *collection.Record  `json:"record,omitempty"`
}
