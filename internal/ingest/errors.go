package ingest

import "fmt"

// Stage names the step of the per-file pipeline that failed.
type Stage string

const (
	StageClassify  Stage = "classify"
	StageRead      Stage = "read"
	StageResolve   Stage = "resolve"
	StageNormalize Stage = "normalize"
	StageWrite     Stage = "write"
	StagePanic     Stage = "panic"
)

// FileError is the failure of one file. It never escapes the orchestrator;
// it is carried in the file's IngestionResult.
type FileError struct {
	Path  string
	Stage Stage
	Err   error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Stage, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// EnumerationError reports that the input root could not be listed. The run
// then completes with zero files and this error as its diagnostic.
type EnumerationError struct {
	Root string
	Err  error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerate %s: %v", e.Root, e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }
