package pipeline

import "go.opentelemetry.io/otel"

const scopeName = "github.com/ChaoticNebula5/Janmitra/internal/pipeline"

var tracer = otel.Tracer(scopeName)
