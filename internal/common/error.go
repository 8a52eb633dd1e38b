package common

import "fmt"

var (
	ErrPackageNotFoundError             = fmt.Errorf("package not found")
	ErrVersionNotFoundError             = fmt.Errorf("package version not found")
	ErrIndexingProcessHasAlreadyStarted = fmt.Errorf("indexing process has already started")
	ErrNoPackagesFoundError             = fmt.Errorf("no packages found")
	ErrEncoderClosed                    = fmt.Errorf("encoder is closed")
)

// ConstructionError rejects an artifact before it can reach any package.
type ConstructionError struct {
	Location string
	Reason   string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("invalid artifact %q: %s", e.Location, e.Reason)
}

// MissingProcessorError is returned by validation when a resource names a
// processor PID that no resource-processor bundle of the package provides.
type MissingProcessorError struct {
	PID      string
	Location string
}

func (e *MissingProcessorError) Error() string {
	return fmt.Sprintf("no resource processor with pid %q for artifact %q", e.PID, e.Location)
}

// DuplicateEntryError is returned by validation when two artifacts of one
// package would be written under the same archive entry name.
type DuplicateEntryError struct {
	Filename string
	Location string
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("duplicate archive entry %q for artifact %q", e.Filename, e.Location)
}

// FetchError aborts a stream when artifact bytes cannot be opened or read.
type FetchError struct {
	Location string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("cannot fetch artifact %q: %v", e.Location, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// WriteError aborts a stream when the archive writer fails.
type WriteError struct {
	Entry string
	Err   error
}

func (e *WriteError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("cannot write archive: %v", e.Err)
	}

	return fmt.Sprintf("cannot write archive entry %q: %v", e.Entry, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
