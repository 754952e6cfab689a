package terminology

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOntology is returned when a caller names an ontology that is
	// not registered with the service.
	ErrUnknownOntology = errors.New("unknown ontology")
	// ErrDataNotFound is matched by DataNotFoundError.
	ErrDataNotFound = errors.New("ontology data not found")
	// ErrNotLoaded is returned when an ontology is queried before its load
	// completed successfully.
	ErrNotLoaded = errors.New("ontology not loaded")
	// ErrQueryRequired is returned for an empty search query.
	ErrQueryRequired = errors.New("query parameter is required")
	// ErrTextRequired is returned when MapText receives no text.
	ErrTextRequired = errors.New("text is required")
	// ErrUnknownGroup is returned by Group for a grouping the ontology does
	// not build.
	ErrUnknownGroup = errors.New("unknown grouping")
)

// DataNotFoundError reports a missing required source file.
type DataNotFoundError struct {
	Ontology string
	File     string
}

func (e *DataNotFoundError) Error() string {
	return fmt.Sprintf("%s: required file %s not found", e.Ontology, e.File)
}

// Is makes errors.Is(err, ErrDataNotFound) hold.
func (e *DataNotFoundError) Is(target error) bool {
	return target == ErrDataNotFound
}

func unknownOntology(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownOntology, name)
}
