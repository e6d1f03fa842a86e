package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory is brute-force search over a flat array, saved as one binary file.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeChromem stores the index in an embedded chromem-go collection.
	IndexTypeChromem IndexType = "chromem"
)

// NewVectorIndex creates an empty vector index of the specified type.
// Supported types: "memory" (default), "chromem".
func NewVectorIndex(indexType string, dimensions int) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeChromem:
		return NewChromemIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, chromem)", indexType)
	}
}
