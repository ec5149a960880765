package dblib

import (
	"testing"
	"time"
)

func TestFormatTemporal(t *testing.T) {
	ts := time.Date(2023, 12, 31, 23, 59, 58, 500000000, time.FixedZone("", 2*3600))
	tests := []struct {
		typ  string
		want string
	}{
		{"date", "2023-12-31"},
		{"time without time zone", "23:59:58"},
		{"timestamp with time zone", "2023-12-31T23:59:58.5+02:00"},
		{"text", "2023-12-31T23:59:58.5+02:00"},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			if got := FormatTemporal(ts, tt.typ); got != tt.want {
				t.Errorf("FormatTemporal(%s) = %q, want %q", tt.typ, got, tt.want)
			}
		})
	}
}

func TestParseTemporal(t *testing.T) {
	tests := []struct {
		name string
		text string
		typ  string
		want CellValue
	}{
		{"empty", "", "date", Null()},
		{"garbage", "not a date", "timestamp", Null()},
		{"invalid day", "2023-02-30", "date", Null()},
		{"date", "2023-02-28", "date", Text("2023-02-28")},
		{"date from timestamp", "2023-02-28 10:00:00", "date", Text("2023-02-28")},
		{"single digit hour", "7:05", "time", Text("07:05:00")},
		{"time padded", "07:05", "time", Text("07:05:00")},
		{"time with seconds", " 07:05:09 ", "time", Text("07:05:09")},
		{"timestamp space separated", "2023-02-28 10:11:12", "timestamp", Text("2023-02-28T10:11:12Z")},
		{"timestamp rfc3339", "2023-02-28T10:11:12+01:00", "timestamptz", Text("2023-02-28T10:11:12+01:00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTemporal(tt.text, tt.typ)
			if got.Kind() != tt.want.Kind() || !ValuesEqual(got, tt.want) {
				t.Errorf("ParseTemporal(%q, %q) = %v, want %v", tt.text, tt.typ, got, tt.want)
			}
		})
	}
}
