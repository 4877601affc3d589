package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
}

func TestParse_OverlaysDefaults(t *testing.T) {
	p, err := Parse([]byte("crf_theta: 10\nn_sigmas: 3\ntexture: false\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := Default()
	want.CRFTheta = 10
	want.NSigmas = 3
	want.Texture = false
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"theta", "crf_theta: 0", "crf_theta"},
		{"gt prob", "crf_gt_prob: 1", "crf_gt_prob"},
		{"sigma range", "sigma_min: 4\nsigma_max: 2", "sigma range"},
		{"downsample", "rf_downsample: 0", "rf_downsample"},
		{"syntax", "crf_theta: [", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if diff := cmp.Diff(Default(), p); diff != "" {
		t.Errorf("empty path should yield defaults:\n%s", diff)
	}

	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte("crf_mu: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err = Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.CRFMu != 5 {
		t.Errorf("CRFMu: got %v, want 5", p.CRFMu)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if diff := cmp.Diff(Default(), p); diff != "" {
		t.Errorf("round trip mismatch:\n%s", diff)
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		env  string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(LogLevelEnv, tt.env)
			if got := LogLevel(); got != tt.want {
				t.Errorf("LogLevel: got %v, want %v", got, tt.want)
			}
		})
	}
}
