package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestUpdateCommand_Parses(t *testing.T) {
	cases := []struct {
		text, name, args string
		ok               bool
	}{
		{"/song never gonna", "song", "never gonna", true},
		{"/Start", "start", "", true},
		{"/ask@relay_bot  what is go ", "ask", "what is go", true},
		{"  /help", "help", "", true},
		{"hello", "", "", false},
		{"/", "", "", false},
		{"/@bot", "", "", false},
	}
	for _, tc := range cases {
		name, args, ok := Update{Text: tc.text}.Command()
		if ok != tc.ok || name != tc.name || args != tc.args {
			t.Errorf("Command(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.text, name, args, ok, tc.name, tc.args, tc.ok)
		}
	}
}

func TestDocumentRef_IsPDF(t *testing.T) {
	cases := map[string]bool{
		"application/pdf":                true,
		"Application/PDF":                true,
		"application/pdf; charset=utf-8": true,
		"image/png":                      false,
		"":                               false,
	}
	for mime, want := range cases {
		d := &DocumentRef{MimeType: mime}
		if got := d.IsPDF(); got != want {
			t.Errorf("IsPDF(%q) = %v, want %v", mime, got, want)
		}
	}
	var nilDoc *DocumentRef
	if nilDoc.IsPDF() {
		t.Error("nil document should not be a PDF")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != FailureExternal {
		t.Errorf("plain error kind = %s, want external", got)
	}
	wrapped := fmt.Errorf("outer: %w", Fail(FailureTooLarge, "download"))
	if got := KindOf(wrapped); got != FailureTooLarge {
		t.Errorf("wrapped failure kind = %s, want too_large", got)
	}
}

func TestWrap_NilIsNil(t *testing.T) {
	if err := Wrap(FailureExternal, "op", nil); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestFailure_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := Wrap(FailureExternal, "tiktok.fetch", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
	if err.Error() != "tiktok.fetch: external: timeout" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestFailureKind_Validation(t *testing.T) {
	if !FailureEmptyArgument.Validation() {
		t.Error("empty argument should be a validation failure")
	}
	if FailureExternal.Validation() || FailureUnavailable.Validation() {
		t.Error("external and unavailable are not validation failures")
	}
}
