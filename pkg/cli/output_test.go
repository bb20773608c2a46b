package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func sampleTable() *Table {
	t := &Table{Headers: []string{"NAME", "PRIORITY", "STATUS"}}
	t.AddRow("work", 0, "ready")
	t.AddRow("personal, backup", 10, "paused")
	return t
}

func TestTextFormatter(t *testing.T) {
	formatter := &TextFormatter{}

	output, err := formatter.Format("test message")
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if string(output) != "test message\n" {
		t.Errorf("Format() = %q, want %q", string(output), "test message\n")
	}
}

func TestTextFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Errorf("header line = %q", lines[0])
	}

	// Columns are aligned: PRIORITY starts at the same offset on every line.
	col := strings.Index(lines[0], "PRIORITY")
	if got := strings.Index(lines[1], "0"); got != col {
		t.Errorf("row 1 priority column at %d, want %d", got, col)
	}
	if got := strings.Index(lines[2], "10"); got != col {
		t.Errorf("row 2 priority column at %d, want %d", got, col)
	}
}

func TestJSONFormatter(t *testing.T) {
	tests := []struct {
		name   string
		data   any
		indent bool
	}{
		{name: "simple string", data: "test"},
		{name: "map with indent", data: map[string]string{"key": "value"}, indent: true},
		{
			name: "struct",
			data: struct {
				Name  string `json:"name"`
				Value int    `json:"value"`
			}{Name: "test", Value: 42},
			indent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := (&JSONFormatter{Indent: tt.indent}).Format(tt.data)
			if err != nil {
				t.Fatalf("Format() error = %v", err)
			}
			var result any
			if err := json.Unmarshal(output, &result); err != nil {
				t.Errorf("Format() produced invalid JSON: %v", err)
			}
		})
	}
}

func TestJSONFormatter_Table(t *testing.T) {
	t.Run("rows keyed by header", func(t *testing.T) {
		buf := &bytes.Buffer{}
		if err := (&JSONFormatter{}).FormatTo(buf, sampleTable()); err != nil {
			t.Fatalf("FormatTo() error = %v", err)
		}
		var got []map[string]string
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(got) != 2 || got[1]["NAME"] != "personal, backup" || got[1]["PRIORITY"] != "10" {
			t.Errorf("unexpected rows: %v", got)
		}
	})

	t.Run("records win", func(t *testing.T) {
		table := sampleTable()
		table.Records = []map[string]int{{"priority": 0}}
		buf := &bytes.Buffer{}
		if err := (&JSONFormatter{}).FormatTo(buf, table); err != nil {
			t.Fatalf("FormatTo() error = %v", err)
		}
		if strings.TrimSpace(buf.String()) != `[{"priority":0}]` {
			t.Errorf("FormatTo() = %s", buf.String())
		}
	})
}

func TestCSVFormatter(t *testing.T) {
	output, err := (&CSVFormatter{}).Format(sampleTable())
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want := "NAME,PRIORITY,STATUS\nwork,0,ready\n\"personal, backup\",10,paused\n"
	if string(output) != want {
		t.Errorf("Format() = %q, want %q", string(output), want)
	}

	if _, err := (&CSVFormatter{}).Format("not a table"); err == nil {
		t.Error("Format() expected error for non-tabular data")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{FormatText, "*cli.TextFormatter"},
		{FormatJSON, "*cli.JSONFormatter"},
		{FormatCSV, "*cli.CSVFormatter"},
		{"unknown", "*cli.TextFormatter"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			got := fmt.Sprintf("%T", NewFormatter(tt.format))
			if got != tt.want {
				t.Errorf("NewFormatter(%q) type = %v, want %v", tt.format, got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{" csv ", FormatCSV, false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
