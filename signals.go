package ouroboros

import "github.com/zoobzio/capitan"

// Signal definitions for ouroboros pipeline and memory events.
// Signals follow the pattern: ouroboros.<entity>.<event>.
var (
	// Step execution signals.
	StepStarted = capitan.NewSignal(
		"ouroboros.step.started",
		"Step began execution",
	)
	StepCompleted = capitan.NewSignal(
		"ouroboros.step.completed",
		"Step finished successfully",
	)
	StepFailed = capitan.NewSignal(
		"ouroboros.step.failed",
		"Step returned an error",
	)
	StepCancelled = capitan.NewSignal(
		"ouroboros.step.cancelled",
		"Step abandoned because its context ended",
	)

	// Pipeline signals.
	PipelineStarted = capitan.NewSignal(
		"ouroboros.pipeline.started",
		"Pipeline run began on a branch",
	)
	PipelineCompleted = capitan.NewSignal(
		"ouroboros.pipeline.completed",
		"Pipeline run produced a branch",
	)
	PipelineFailed = capitan.NewSignal(
		"ouroboros.pipeline.failed",
		"Pipeline run aborted with an error",
	)

	// Branch signals.
	BranchCreated = capitan.NewSignal(
		"ouroboros.branch.created",
		"New execution branch created",
	)
	BranchForked = capitan.NewSignal(
		"ouroboros.branch.forked",
		"Branch forked onto a new data store",
	)

	// Memory signals.
	EpisodeStored = capitan.NewSignal(
		"ouroboros.episode.stored",
		"Episode embedded and persisted",
	)
	EpisodesRetrieved = capitan.NewSignal(
		"ouroboros.episodes.retrieved",
		"Similar episodes ranked for a query",
	)
	MemoryConsolidated = capitan.NewSignal(
		"ouroboros.memory.consolidated",
		"Consolidation strategy applied to aged episodes",
	)
	MemoryFailed = capitan.NewSignal(
		"ouroboros.memory.failed",
		"Memory read or write failed",
	)
)

// Field keys for ouroboros event data.
var (
	// Step metadata.
	FieldStepName     = capitan.NewStringKey("step_name")
	FieldStepMode     = capitan.NewStringKey("step_mode")
	FieldStepDuration = capitan.NewDurationKey("step_duration")

	// Pipeline and branch metadata.
	FieldPipeline     = capitan.NewStringKey("pipeline")
	FieldBranch       = capitan.NewStringKey("branch")
	FieldParentBranch = capitan.NewStringKey("parent_branch")
	FieldEventCount   = capitan.NewIntKey("event_count")
	FieldStoreID      = capitan.NewStringKey("store_id")

	// Episode metadata.
	FieldEpisodeID     = capitan.NewStringKey("episode_id")
	FieldGoal          = capitan.NewStringKey("goal")
	FieldOutcome       = capitan.NewStringKey("outcome") // success, failure
	FieldQuery         = capitan.NewStringKey("query")
	FieldTopK          = capitan.NewIntKey("top_k")
	FieldMinSimilarity = capitan.NewFloat32Key("min_similarity")
	FieldResultCount   = capitan.NewIntKey("result_count")
	FieldOperation     = capitan.NewStringKey("operation") // store, retrieve, consolidate

	// Consolidation.
	FieldStrategy     = capitan.NewStringKey("strategy")
	FieldExamined     = capitan.NewIntKey("examined")
	FieldPruned       = capitan.NewIntKey("pruned")
	FieldConsolidated = capitan.NewIntKey("consolidated")
	FieldDissolved    = capitan.NewIntKey("dissolved")

	// Error information.
	FieldError = capitan.NewErrorKey("error")
)
