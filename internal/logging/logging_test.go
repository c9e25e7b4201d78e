package logging

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "debug", want: LevelDebug},
		{in: "INFO", want: LevelInfo},
		{in: "", want: LevelInfo},
		{in: "warning", want: LevelWarn},
		{in: "error", want: LevelError},
		{in: "loud", want: LevelInfo, wantErr: true},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("test #%v: %q", i, tt.in), func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFiltering(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(LevelInfo)

	tests := []struct {
		level Level
		want  []string
		skip  []string
	}{
		{level: LevelDebug, want: []string{"[DEBUG] d1", "[INFO] i1", "[WARN] w1", "[ERROR] e1"}},
		{level: LevelInfo, want: []string{"[INFO] i1", "[WARN] w1", "[ERROR] e1"}, skip: []string{"DEBUG"}},
		{level: LevelError, want: []string{"[ERROR] e1"}, skip: []string{"DEBUG", "INFO", "WARN"}},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("test #%v: %v", i, tt.level), func(t *testing.T) {
			buf.Reset()
			SetLevel(tt.level)
			Debug("d%v", 1)
			Info("i%v", 1)
			Warn("w%v", 1)
			Error("e%v", 1)
			got := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("output missing %q:\n%v", w, got)
				}
			}
			for _, s := range tt.skip {
				if strings.Contains(got, s) {
					t.Errorf("output contains %q:\n%v", s, got)
				}
			}
		})
	}
}
