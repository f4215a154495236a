// Package observability provides metrics and attribute helpers.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrMethod   = "method"
	attrPath     = "path"
	attrStatus   = "status"
	attrImage    = "image"
	attrOutcome  = "outcome"
	attrDecision = "decision"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	// Normalize paths with IDs to reduce cardinality
	// /GetResults/abc123 -> /GetResults/{jobId}
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func imageAttr(image string) attribute.KeyValue {
	return attribute.String(attrImage, image)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func decisionAttr(decision string) attribute.KeyValue {
	return attribute.String(attrDecision, decision)
}

// UnmatchedPath labels requests that matched no route.
const UnmatchedPath = "other"

// normalizePath replaces the job id segment with a placeholder. An empty
// path, meaning no route matched, becomes UnmatchedPath.
// Works with or without a route prefix in front of GetResults.
func normalizePath(path string) string {
	if path == "" {
		return UnmatchedPath
	}
	const segment = "/GetResults/"
	i := strings.Index(path, segment)
	if i < 0 || len(path) == i+len(segment) {
		return path
	}
	return path[:i] + segment + "{jobId}"
}

// WithMethod returns a metric option with the method attribute.
func WithMethod(method string) metric.MeasurementOption {
	return metric.WithAttributes(methodAttr(method))
}

// WithPath returns a metric option with the path attribute.
func WithPath(path string) metric.MeasurementOption {
	return metric.WithAttributes(pathAttr(path))
}

// WithStatus returns a metric option with the status attribute.
func WithStatus(code int) metric.MeasurementOption {
	return metric.WithAttributes(statusAttr(code))
}

// WithDecision returns a metric option with the decision attribute.
func WithDecision(decision string) metric.MeasurementOption {
	return metric.WithAttributes(decisionAttr(decision))
}
