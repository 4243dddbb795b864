package models

import "time"

// PhotoKind distinguishes evidence captured on arrival from evidence captured on completion.
type PhotoKind string

const (
	PhotoKindBefore PhotoKind = "before"
	PhotoKindAfter  PhotoKind = "after"
)

// Valid reports whether k is before or after.
func (k PhotoKind) Valid() bool {
	return k == PhotoKindBefore || k == PhotoKindAfter
}

// Photo links an object in the photo bucket to a job. Rows are written once by
// the upload pipeline and never mutated.
type Photo struct {
	ID        string    `db:"id"         json:"id"`
	JobID     string    `db:"job_id"     json:"job_id"`
	Kind      PhotoKind `db:"type"       json:"type"`
	Path      string    `db:"image_url"  json:"image_url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
