package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/lito/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	turnsStarted, _ = meter.Int64Counter("lito.turns.started",
		metric.WithDescription("Turns started for a finalized utterance"))
	turnsPreempted, _ = meter.Int64Counter("lito.turns.preempted",
		metric.WithDescription("Turns cancelled before they settled"))
	fragmentsSkipped, _ = meter.Int64Counter("lito.fragments.skipped",
		metric.WithDescription("Response fragments skipped because no audio was produced"))
)
