package models

// Plane identifies the anatomical plane a CT slice was acquired in.
// The plane is parsed from a tag embedded in the slice filename.
type Plane int

const (
	Axial Plane = iota
	Coronal
	Sagittal
)

// String returns the lowercase filename tag for the plane.
func (p Plane) String() string {
	switch p {
	case Axial:
		return "axial"
	case Coronal:
		return "coronal"
	case Sagittal:
		return "sagittal"
	default:
		return "unknown"
	}
}

// Planes lists every recognized anatomical plane in bucket order.
var Planes = []Plane{Axial, Coronal, Sagittal}

// SeverityLabel is the discrete grade assigned to a slice from its
// severity score.
type SeverityLabel int

const (
	Healthy SeverityLabel = iota
	Mild
	Moderate
)

// String returns a human-readable name for the label.
func (l SeverityLabel) String() string {
	switch l {
	case Healthy:
		return "healthy"
	case Mild:
		return "mild"
	case Moderate:
		return "moderate"
	default:
		return "unknown"
	}
}

// NumLabels is the number of severity classes the pipeline can assign.
const NumLabels = 3

// Slice represents a single loaded CT slice with metadata.
type Slice struct {
	// Pixels is the grayscale image data as a row-major array with
	// values normalized to [0,1].
	Pixels []float64

	// Width and Height are the dimensions after resizing.
	Width  int
	Height int

	// Plane is the anatomical plane parsed from the filename.
	Plane Plane

	// Filename is the original filename of the slice.
	Filename string

	// Score is the heuristic severity score, set by the scoring stage.
	Score float64

	// Label is the severity grade, set by the scoring stage.
	Label SeverityLabel
}

// Dataset groups loaded slices by anatomical plane.
type Dataset struct {
	// Groups maps each recognized plane to its slices. Files whose
	// names carry no plane tag appear in no group.
	Groups map[Plane][]*Slice
}

// NewDataset returns an empty dataset with all plane buckets allocated.
func NewDataset() *Dataset {
	groups := make(map[Plane][]*Slice, len(Planes))
	for _, p := range Planes {
		groups[p] = nil
	}
	return &Dataset{Groups: groups}
}

// All returns every slice across all planes in bucket order.
func (d *Dataset) All() []*Slice {
	var out []*Slice
	for _, p := range Planes {
		out = append(out, d.Groups[p]...)
	}
	return out
}

// Len returns the total number of slices across all planes.
func (d *Dataset) Len() int {
	n := 0
	for _, p := range Planes {
		n += len(d.Groups[p])
	}
	return n
}
