package curate

// batch collects upsert rows and reuses their backing storage between
// flushes. CuratedTx.Upsert does not keep rows after it returns, so once a
// batch is flushed its rows can be handed out again.
//
// Ownership: a row returned by next belongs to the batch. Callers fill it in
// place and must not keep it past the following reset.
type batch struct {
	width int
	rows  [][]any
	slab  []any
}

func newBatch(size, width int) *batch {
	return &batch{
		width: width,
		rows:  make([][]any, 0, size),
		slab:  make([]any, size*width),
	}
}

func (b *batch) len() int { return len(b.rows) }

func (b *batch) full() bool { return len(b.rows) == cap(b.rows) }

// next appends a zeroed row and returns it.
func (b *batch) next() []any {
	i := len(b.rows)
	row := b.slab[i*b.width : (i+1)*b.width : (i+1)*b.width]
	for j := range row {
		row[j] = nil
	}
	b.rows = append(b.rows, row)
	return row
}

func (b *batch) reset() { b.rows = b.rows[:0] }
