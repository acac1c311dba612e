package entity

import "strings"

// Stage is one named phase of the pipeline state machine.
type Stage string

const (
	StageRequestCreated    Stage = "request_created"
	StageFetchingPosts     Stage = "fetching_posts"
	StageSocialDataFetched Stage = "social_data_fetched"
	StagePartialSuccess    Stage = "partial_success"
	StageCollectingMedia   Stage = "collecting_media"
	StageTranscribing      Stage = "transcribing"
	StageDisplayingContent Stage = "displaying_content"
	StageAnalysing         Stage = "analysing"
	StageAnalysisComplete  Stage = "analysis_complete"
	StageError             Stage = "error"
	StageRetrying          Stage = "retrying"
)

var allStages = []Stage{
	StageRequestCreated,
	StageFetchingPosts,
	StageSocialDataFetched,
	StagePartialSuccess,
	StageCollectingMedia,
	StageTranscribing,
	StageDisplayingContent,
	StageAnalysing,
	StageAnalysisComplete,
	StageError,
	StageRetrying,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, s := range allStages {
		set[s] = struct{}{}
	}
	return set
}()

// stageProgress is the nominal progress percentage written on entry to a stage.
// partial_success is computed from the collection ratio instead.
var stageProgress = map[Stage]int{
	StageRequestCreated:    0,
	StageRetrying:          0,
	StageFetchingPosts:     10,
	StageSocialDataFetched: 30,
	StageCollectingMedia:   40,
	StageTranscribing:      45,
	StageDisplayingContent: 60,
	StageAnalysing:         70,
	StageAnalysisComplete:  100,
}

// Any stage may move to error; that edge is handled in CanTransition.
var transitions = map[Stage][]Stage{
	StageRequestCreated:    {StageFetchingPosts},
	StageRetrying:          {StageFetchingPosts},
	StageFetchingPosts:     {StageSocialDataFetched, StagePartialSuccess},
	StageSocialDataFetched: {StageCollectingMedia},
	StagePartialSuccess:    {StageCollectingMedia},
	StageCollectingMedia:   {StageTranscribing, StageDisplayingContent},
	StageTranscribing:      {StageDisplayingContent},
	StageDisplayingContent: {StageAnalysing},
	StageAnalysing:         {StageAnalysisComplete},
	StageError:             {StageRetrying},
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	s := Stage(strings.ToLower(strings.TrimSpace(value)))
	_, ok := stageSet[s]
	return s, ok
}

// Progress returns the nominal progress percentage for a stage.
func (s Stage) Progress() int {
	return stageProgress[s]
}

// Label is the human readable stage name used in ledger messages.
func (s Stage) Label() string {
	switch s {
	case StageRequestCreated:
		return "Request created"
	case StageFetchingPosts:
		return "Fetching posts"
	case StageSocialDataFetched:
		return "Posts fetched"
	case StagePartialSuccess:
		return "Some posts fetched"
	case StageCollectingMedia:
		return "Collecting media"
	case StageTranscribing:
		return "Transcribing video"
	case StageDisplayingContent:
		return "Content ready"
	case StageAnalysing:
		return "Analysing"
	case StageAnalysisComplete:
		return "Analysis complete"
	case StageRetrying:
		return "Retrying"
	case StageError:
		return "Error"
	default:
		return string(s)
	}
}

// Starts reports whether the stage opens a new run of the pipeline.
func (s Stage) Starts() bool {
	return s == StageRequestCreated || s == StageRetrying
}

// CanTransition reports whether to may directly follow from.
func CanTransition(from, to Stage) bool {
	if to == StageError {
		return from != StageAnalysisComplete && from != StageError
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PartialProgress scales the collection ratio into the 0-50 partial range.
func PartialProgress(succeeded, total int) int {
	if total <= 0 || succeeded <= 0 {
		return 0
	}
	return succeeded * 50 / total
}
