package claimwriter

// Record is one inbound unit of work.
//
// Key identifies the claim; it decides both the partition a record is
// written by and which records supersede each other within a batch. When Key
// is empty it is extracted from Payload by the sink. Sequence is assigned by
// the upstream source and increases monotonically.
type Record struct {
	Key      string
	Sequence int64
	Version  string
	Payload  []byte
}

// Entry is a record as queued to a writer, tagged with the protocol version
// it was submitted under.
type Entry struct {
	Version string
	Record  Record
}

// Sequence returns the sequence number of the entry's record.
func (e Entry) Sequence() int64 {
	return e.Record.Sequence
}

// BatchResult is the outcome of one writer flush, or of one record dropped
// because its transform failed.
//
// Entries lists every record the result covers in arrival order, including
// records superseded by a later version of the same key. Written is the
// number of storage items persisted.
type BatchResult struct {
	Partition int
	Entries   []Entry
	Written   int
	Err       error
}

// Failed reports whether the result carries an error.
func (r BatchResult) Failed() bool {
	return r.Err != nil
}
