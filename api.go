// Package ouroboros provides typed, composable steps and event-sourced
// execution branches with episodic memory for Go agents.
//
// An agent built on ouroboros runs steps over a [Branch], remembers how
// each attempt went as an [Episode], and recalls similar episodes the next
// time it faces a similar goal.
//
// # Results and Options
//
// Failures that a caller is expected to handle are values, not panics:
//
//   - [Result] - Success or Failure, with [MapResult], [BindResult], [MatchResult]
//   - [Option] - Some or None, with [MapOption], [BindOption], [MatchOption]
//   - [ErrorInfo] - Failure payload classified as validation, execution, external, or cancelled
//
// # Steps
//
// A [Step] is a named function from In to Out with a declared [Mode]:
//
//   - [Transform], [Do] - synchronous steps
//   - [Async] - steps that may suspend and honor cancellation
//   - [Contextual] - steps that read an [Env] and append to a [Log]
//
// Steps compose with [Then] and [Chain]; [Identity] is the neutral element.
// Composition widens the mode, concatenates logs, and stops at the first
// error. [Try] turns a step's error into a [Result] so the pipeline never
// crashes on a recoverable failure.
//
//	parse := ouroboros.Do("parse", strconv.Atoi)
//	double := ouroboros.Transform("double", func(n int) int { return n * 2 })
//	out, err := ouroboros.Then(parse, double).Run(ctx, "21")
//
// # Branches
//
// A [Branch] is an immutable event log bound to one [DataStore]. Appending
// an event returns a new branch; [Branch.Fork] copies the log onto a
// different store so two lines of execution never share mutable state.
//
// # Pipelines
//
// [Pipeline] builds pipz chainables over a branch:
//
//	p := ouroboros.NewPipeline("triage").
//	    Step(classify).
//	    Retry(3).
//	    Use(ouroboros.NewCheckpoint("before_plan")).
//	    Use(ouroboros.NewReason("plan", "Propose the next action")).
//	    Timeout(30 * time.Second)
//
// Branch primitives:
//   - [NewCheckpoint] - Fork onto a fresh data store
//   - [NewReason] - LLM reasoning over branch history
//   - [NewReflect] - LLM summary of branch history
//   - [NewSeek] - Recall similar episodes onto the branch
//
// # Episodic Memory
//
// An [Engine] stores and retrieves episodes through an [EpisodeStore]:
//
//   - [InMemoryEpisodeStore] - process-local
//   - [SQLiteEpisodeStore] - embedded file via modernc.org/sqlite
//   - [SoyEpisodeStore] - PostgreSQL with pgvector via soy
//   - [RedisEpisodeStore] - Redis hash per collection
//
// [WrapWithMemory] decorates any step so each run recalls similar episodes
// and stores exactly one new one, without changing the step's output.
// [Engine.ConsolidateMemories] applies a [ConsolidationStrategy] to aged
// episodes.
//
// # Provider & Embedder
//
// LLM and embedding access uses a resolution hierarchy:
//
//  1. Explicit parameter (.WithProvider(p))
//  2. Context value (ouroboros.WithProvider(ctx, p))
//  3. Global default (ouroboros.SetProvider(p))
//
// # Configuration
//
// [LoadConfig] reads a YAML file and [Open] builds an engine from it.
//
// # Observability
//
// Ouroboros emits capitan signals for steps, pipelines, branches, and
// memory operations, and opens an OpenTelemetry span per leaf step. See
// signals.go for the complete list.
package ouroboros
