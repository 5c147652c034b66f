package domain

import "time"

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError || s == JobStatusCancelled
}

// JobPhase is the human readable step a running job is in.
type JobPhase string

const (
	PhaseQueued      JobPhase = "queued"
	PhaseDiscovering JobPhase = "discovering"
	PhaseDescribing  JobPhase = "describing"
	PhaseGrouping    JobPhase = "grouping"
	PhaseOrganizing  JobPhase = "organizing"
	PhaseDone        JobPhase = "done"
)

const (
	DefaultModel               = "qwen2.5vl"
	DefaultSimilarityThreshold = 0.85
	DefaultMinGroupSize        = 3
	DefaultCopyFiles           = true
)

// Settings tune one organization run.
type Settings struct {
	Model               string  `json:"model"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	MinGroupSize        int     `json:"min_group_size"`
	CopyFiles           bool    `json:"copy_files"`
}

func DefaultSettings() Settings {
	return Settings{
		Model:               DefaultModel,
		SimilarityThreshold: DefaultSimilarityThreshold,
		MinGroupSize:        DefaultMinGroupSize,
		CopyFiles:           DefaultCopyFiles,
	}
}

// Job is one organization run as seen by pollers. Values handed out by the
// registry are snapshots and safe to read without synchronization.
type Job struct {
	ID             string
	Status         JobStatus
	Phase          JobPhase
	InputRoot      string
	OutputRoot     string
	Settings       Settings
	TotalItems     int
	ProcessedItems int
	Progress       float64
	CurrentItem    string
	ErrorMessage   string
	Result         *Result
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// Result is populated only once a job reaches JobStatusCompleted.
type Result struct {
	Groups  []GroupResult `json:"groups"`
	Skipped []SkippedItem `json:"skipped"`
	Stats   ResultStats   `json:"stats"`
}

type GroupResult struct {
	CanonicalName string      `json:"canonical_name"`
	Files         []Placement `json:"files"`
}

type Placement struct {
	OriginalPath    string `json:"original_path"`
	DestinationPath string `json:"destination_path"`
}

type SkippedItem struct {
	Path   string    `json:"path"`
	Stage  ItemStage `json:"stage"`
	Reason string    `json:"reason"`
}

type ResultStats struct {
	TotalImages     int `json:"total_images"`
	OrganizedImages int `json:"organized_images"`
	GroupsCreated   int `json:"groups_created"`
}

// Clone returns a deep copy so snapshots never share slices with the writer.
func (j Job) Clone() Job {
	clone := j
	if j.StartedAt != nil {
		started := *j.StartedAt
		clone.StartedAt = &started
	}
	if j.FinishedAt != nil {
		finished := *j.FinishedAt
		clone.FinishedAt = &finished
	}
	if j.Result != nil {
		result := cloneResult(*j.Result)
		clone.Result = &result
	}
	return clone
}

func cloneResult(result Result) Result {
	clone := Result{Stats: result.Stats}
	clone.Groups = make([]GroupResult, 0, len(result.Groups))
	for _, group := range result.Groups {
		clone.Groups = append(clone.Groups, GroupResult{
			CanonicalName: group.CanonicalName,
			Files:         append([]Placement(nil), group.Files...),
		})
	}
	clone.Skipped = append([]SkippedItem{}, result.Skipped...)
	return clone
}

// HistoryEntry is the archived report of a finished job.
type HistoryEntry struct {
	JobID        string
	Status       JobStatus
	InputRoot    string
	OutputRoot   string
	Settings     Settings
	TotalItems   int
	ErrorMessage string
	Result       *Result
	CreatedAt    time.Time
	FinishedAt   time.Time
}

type HistoryFilter struct {
	Status   JobStatus
	Page     int
	PageSize int
}
