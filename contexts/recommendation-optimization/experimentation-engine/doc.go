// Package experimentationengine implements the A/B experimentation engine
// inside the recommendation-optimization context.
//
// The module owns experiment definition and its lifecycle state machine,
// deterministic subject-to-variant assignment, append-only conversion
// recording, and on-demand results with a banded significance test feeding a
// pluggable decision policy. Lifecycle changes are published through an
// outbox relay; storage and transport sit behind ports and adapters.
package experimentationengine
