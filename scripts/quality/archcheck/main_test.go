package main

import "testing"

func TestViolationReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		importer string
		imported string
		want     string
	}{
		{name: "pkg to internal", importer: "tether/pkg/reconcile", imported: "tether/internal/kernel", want: "pkg/* must not import internal/*"},
		{name: "pkg to modules", importer: "tether/pkg/llm", imported: "tether/modules/llmreply", want: "pkg/* must not import modules/*"},
		{name: "kernel to driver", importer: "tether/internal/kernel", imported: "tether/internal/driver/telegram", want: "internal/kernel must not import internal/driver/*"},
		{name: "module to internal", importer: "tether/modules/xkcd", imported: "tether/internal/kernel", want: "modules/* must not import internal/*"},
		{name: "module to module", importer: "tether/modules/move", imported: "tether/modules/xkcd", want: "modules/* must not import other modules"},
		{name: "module to itself", importer: "tether/modules/move", imported: "tether/modules/move/internal/x"},
		{name: "module to pkg", importer: "tether/modules/xkcd", imported: "tether/pkg/reconcile"},
		{name: "cmd to internal", importer: "tether/cmd/bot", imported: "tether/internal/kernel"},
		{name: "third party", importer: "tether/pkg/llm", imported: "github.com/openai/openai-go/v3"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := violationReason(testCase.importer, testCase.imported); got != testCase.want {
				t.Fatalf("violationReason(%q, %q) = %q, want %q", testCase.importer, testCase.imported, got, testCase.want)
			}
		})
	}
}
