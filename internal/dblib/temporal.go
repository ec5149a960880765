package dblib

import (
	"strings"
	"time"
)

const (
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"
	TimestampLayout = time.RFC3339Nano
)

// layouts accepted when parsing typed temporal input, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	DateLayout,
}

var timeLayouts = []string{
	"15:04:05.999999999Z07:00",
	"15:04:05.999999999-07",
	"15:04:05.999999999",
	TimeLayout,
	"15:04",
}

// FormatTemporal renders t according to the declared column type: dates as
// YYYY-MM-DD, times as HH:MM:SS and everything else as ISO-8601.
func FormatTemporal(t time.Time, declaredType string) string {
	switch Categorize(declaredType) {
	case CategoryDate:
		return t.Format(DateLayout)
	case CategoryTime:
		return t.Format(TimeLayout)
	default:
		return t.Format(TimestampLayout)
	}
}

// ParseTemporal parses typed date/time input for a column of the declared type
// and returns its canonical text. Empty or unparsable input yields null.
func ParseTemporal(text, declaredType string) CellValue {
	text = strings.TrimSpace(text)
	if text == "" || strings.EqualFold(text, "null") {
		return Null()
	}
	layouts := timestampLayouts
	if Categorize(declaredType) == CategoryTime {
		layouts = timeLayouts
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, text); err == nil {
			return Text(FormatTemporal(t, declaredType))
		}
	}
	return Null()
}
