package utils

// Interface selects which copies of a shared DOF take part in an exchange
type Interface int

const (
	// AllAll exchanges between every pair of partitions holding the DOF
	AllAll Interface = iota
	// InteriorBorderAll sends from the owner to every other holder
	InteriorBorderAll
)

// Interfaces lists every exchange interface
var Interfaces = []Interface{AllAll, InteriorBorderAll}

func (i Interface) String() string {
	switch i {
	case AllAll:
		return "AllAll"
	case InteriorBorderAll:
		return "InteriorBorderAll"
	}
	return "Unknown"
}

// DataHandle picks values for sending and combines received values into local data
type DataHandle interface {
	Pick(data []float64, idx int) float64
	Place(data []float64, idx int, value float64)
}

// AddDataHandle sums received values into the local copy
type AddDataHandle struct{}

func (AddDataHandle) Pick(data []float64, idx int) float64 { return data[idx] }

func (AddDataHandle) Place(data []float64, idx int, value float64) { data[idx] += value }

// CopyDataHandle overwrites the local copy with the received value
type CopyDataHandle struct{}

func (CopyDataHandle) Pick(data []float64, idx int) float64 { return data[idx] }

func (CopyDataHandle) Place(data []float64, idx int, value float64) { data[idx] = value }
