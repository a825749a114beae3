package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Phase enumerates the stages of a library export.
type Phase int

const (
	FetchContainers Phase = iota
	ResolveSongs
	WriteFiles
	ExportFailed
	WriteManifest
)

func (p Phase) String() string {
	switch p {
	case FetchContainers:
		return "fetch_containers"
	case ResolveSongs:
		return "resolve_songs"
	case WriteFiles:
		return "write_files"
	case ExportFailed:
		return "export_failed"
	case WriteManifest:
		return "write_manifest"
	default:
		return ""
	}
}

// sendProgress never blocks; a full or nil channel drops the update.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func fetchContainersUpdate(kind string) ProgressUpdate {
	return ProgressUpdate{Phase: FetchContainers, Message: fmt.Sprintf("Listing %ss...", kind)}
}

func resolveUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ResolveSongs,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Resolving songs for %s...", name),
	}
}

func writtenUpdate(step, total int, res ContainerResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WriteFiles,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Exported %s (%d songs)", res.Name, res.Songs),
		Data:    res,
	}
}

func failedUpdate(step, total int, res ContainerResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportFailed,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Failed to export %s: %v", res.Name, res.Err),
		Data:    res,
	}
}
