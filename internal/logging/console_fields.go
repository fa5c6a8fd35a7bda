package logging

import (
	"log/slog"
	"strconv"
	"strings"
)

type infoField struct {
	label string
	value string
}

// highlightKeys are printed first, in this order, when present.
var highlightKeys = []string{
	FieldAlert,
	FieldEventType,
	"error",
	FieldErrorHint,
	FieldImpact,
	"lpips",
	"psnr",
	"ssim",
	"fid",
	"pixel",
	"f1",
	"iou",
	"score",
	"submissions_scored",
	"submissions_failed",
	"leaderboard_updated",
	"attempts",
	"scan_duration",
}

// selectFields formats attributes for console output. Subject keys are
// consumed by the header. Outside debug, identifiers and paths are counted as
// hidden rather than printed.
func selectFields(attrs []kv, debug bool) ([]infoField, int) {
	if len(attrs) == 0 {
		return nil, 0
	}
	used := make([]bool, len(attrs))
	result := make([]infoField, 0, len(attrs))
	hidden := 0

	emit := func(idx int) {
		used[idx] = true
		attr := attrs[idx]
		if isSubjectKey(attr.key) {
			return
		}
		if !debug && isDebugOnlyKey(attr.key) {
			hidden++
			return
		}
		result = append(result, infoField{label: displayLabel(attr.key), value: formatValueForKey(attr.key, attr.value)})
	}

	for _, key := range highlightKeys {
		for idx, attr := range attrs {
			if !used[idx] && attr.key == key {
				emit(idx)
				break
			}
		}
	}
	for idx := range attrs {
		if !used[idx] {
			emit(idx)
		}
	}
	return result, hidden
}

func formatValueForKey(key string, v slog.Value) string {
	v = v.Resolve()
	switch {
	case v.Kind() == slog.KindBool:
		if v.Bool() {
			return "yes"
		}
		return "no"
	case v.Kind() == slog.KindFloat64 && isMetricKey(key):
		return strconv.FormatFloat(v.Float64(), 'f', 4, 64)
	case key == "error":
		value := formatValue(v)
		if len(value) > 240 {
			value = value[:240] + "…"
		}
		return value
	}
	return formatValue(v)
}

func isMetricKey(key string) bool {
	switch key {
	case "lpips", "psnr", "ssim", "fid", "pixel", "f1", "iou", "score", "mse":
		return true
	}
	return false
}

func isSubjectKey(key string) bool {
	switch key {
	case "", FieldComponent, FieldTrack, FieldTeam, FieldInstance:
		return true
	}
	return false
}

func isDebugOnlyKey(key string) bool {
	switch key {
	case FieldCorrelationID, "pid", "argv":
		return true
	}
	return strings.HasSuffix(key, "_path") || strings.HasSuffix(key, "_dir") || strings.HasSuffix(key, "_id")
}

func displayLabel(key string) string {
	switch key {
	case FieldAlert:
		return "Alert"
	case FieldEventType:
		return "Event"
	case FieldErrorHint:
		return "Hint"
	case "lpips", "psnr", "ssim", "fid", "iou", "mse":
		return strings.ToUpper(key)
	case "f1":
		return "F1"
	case "pixel":
		return "Pixel Accuracy"
	default:
		return titleizeKey(key)
	}
}

func titleizeKey(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	for i, part := range parts {
		lower := strings.ToLower(part)
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}
