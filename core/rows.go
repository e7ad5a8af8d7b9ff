package core

// Row is a single result row, keyed by column name. It mirrors the shape the
// teacher's SQL engine already returns from a scan; the coordinator never
// interprets row contents, only counts and forwards them.
type Row map[string]interface{}

// RowBatch is a batch of rows produced by the root fragment executor. It is
// owned by the executor and is only valid until the next call to GetNext,
// matching the C++ coordinator's row-batch ownership contract.
type RowBatch struct {
	Columns []string
	Rows    []Row
}

// Count returns the number of rows in the batch.
func (b *RowBatch) Count() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}
