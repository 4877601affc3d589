package classifier

// Rows is a read-only source of equally sized sample vectors.
//
// Feature stacks implement it so predictions can stream over every pixel
// without materialising one large matrix.
type Rows interface {
	// Len is the number of rows.
	Len() int
	// Dim is the length of every row.
	Dim() int
	// Row copies row i into dst, growing it if needed, and returns it.
	Row(i int, dst []float64) []float64
}

// Matrix is a dense row-major matrix.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewMatrix allocates a zeroed rows×cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// Len implements Rows.
func (m *Matrix) Len() int { return m.Rows }

// Dim implements Rows.
func (m *Matrix) Dim() int { return m.Cols }

// Row implements Rows.
func (m *Matrix) Row(i int, dst []float64) []float64 {
	if cap(dst) < m.Cols {
		dst = make([]float64, m.Cols)
	}
	dst = dst[:m.Cols]
	copy(dst, m.Data[i*m.Cols:(i+1)*m.Cols])
	return dst
}

// At returns element (i, j).
func (m *Matrix) At(i, j int) float64 {
	return m.Data[i*m.Cols+j]
}

// Set assigns element (i, j).
func (m *Matrix) Set(i, j int, v float64) {
	m.Data[i*m.Cols+j] = v
}

// RowView returns row i without copying.
func (m *Matrix) RowView(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Collect copies the selected rows of src into a new matrix.
func Collect(src Rows, idx []int) *Matrix {
	m := NewMatrix(len(idx), src.Dim())
	for k, i := range idx {
		src.Row(i, m.RowView(k))
	}
	return m
}

// ArgMax returns the index of the largest value of each row.
func ArgMax(m *Matrix) []int {
	out := make([]int, m.Rows)
	for i := 0; i < m.Rows; i++ {
		row := m.RowView(i)
		best := 0
		for j := 1; j < len(row); j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out
}
