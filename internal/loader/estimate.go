package loader

import "github.com/dbsmedya/esload/internal/config"

// Estimate describes what a run over a known number of rows would do.
type Estimate struct {
	Rows    int64
	Flushes int64
	Dropped int64
}

// EstimateRun predicts flushes and dropped rows for rows under the given
// batch size and flush policy, assuming every row transforms cleanly.
func EstimateRun(rows int64, batchSize int, flushPolicy string) Estimate {
	e := Estimate{Rows: rows}
	if rows <= 0 || batchSize <= 0 {
		return e
	}
	size := int64(batchSize)
	e.Flushes = rows / size
	if rest := rows % size; rest > 0 {
		if flushPolicy == config.FlushStrict {
			e.Dropped = rest
		} else {
			e.Flushes++
		}
	}
	return e
}
