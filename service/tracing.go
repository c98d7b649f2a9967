package service

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/gabihodoroga/pubsub-batcher/service")
