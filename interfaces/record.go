package interfaces

// Record is implemented by every domain type that is synchronized through firewatch.
//
// RecordID returns the document identifier that the materializer injected when the
// record was built from a snapshot. The id never appears in a record's serialized field
// map; the backend owns identifier placement.
type Record interface {
	RecordID() string
}
