package application

import "go.opentelemetry.io/otel"

// Tracer uses the globally registered provider, a no-op until
// internal/platform/otel.Setup installs one.
var Tracer = otel.Tracer("aegis/" + ModuleName)
