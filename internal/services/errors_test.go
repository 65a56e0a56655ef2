package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"avsrt/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "extract_audio", "ffmpeg", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"extract_audio", "ffmpeg", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"nil", nil, services.KindNone},
		{"input", services.Wrap(services.ErrInput, "workspace", "stat", "missing", nil), services.KindInput},
		{"workspace", services.Wrap(services.ErrWorkspace, "workspace", "lock", "busy", nil), services.KindWorkspace},
		{"stage", services.Wrap(services.ErrStageExecution, "asr", "transcribe", "", errors.New("exit 1")), services.KindStageExecution},
		{"tool", services.Wrap(services.ErrExternalTool, "audio", "ffmpeg", "", nil), services.KindStageExecution},
		{"translation over transient", services.Wrap(services.ErrTranslation, "translate", "google", "", services.ErrTransient), services.KindTranslation},
		{"validation", services.Wrap(services.ErrValidation, "artifact", "read", "", nil), services.KindValidation},
		{"canceled", services.Wrap(services.ErrStageExecution, "asr", "", "", context.Canceled), services.KindCanceled},
		{"unknown", fmt.Errorf("plain"), services.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFatal(t *testing.T) {
	if services.Fatal(nil) {
		t.Fatal("nil error must not be fatal")
	}
	if services.Fatal(services.Wrap(services.ErrTranslation, "translate", "", "auth", nil)) {
		t.Fatal("translation failures must not be fatal")
	}
	if !services.Fatal(services.Wrap(services.ErrStageExecution, "vad", "", "", nil)) {
		t.Fatal("stage execution failures must be fatal")
	}
}
