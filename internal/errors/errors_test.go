// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid port")
	if err.Error() != "invalid port" {
		t.Errorf("expected 'invalid port', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindInternal, "failed to load config")
	if wrapped.Error() != "failed to load config: invalid port" {
		t.Errorf("expected 'failed to load config: invalid port', got '%s'", wrapped.Error())
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindValidation, "unknown network_mode")
	if GetKind(err) != KindValidation {
		t.Errorf("expected KindValidation, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindInternal, "failed")
	if GetKind(wrapped) != KindInternal {
		t.Errorf("expected KindInternal, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestAttributes(t *testing.T) {
	err := New(KindValidation, "invalid listener")
	err = Attr(err, "listener", "ftp")
	err = Attr(err, "port", 21)

	attrs := GetAttributes(err)
	if attrs["listener"] != "ftp" {
		t.Errorf("expected ftp, got %v", attrs["listener"])
	}
	if attrs["port"] != 21 {
		t.Errorf("expected 21, got %v", attrs["port"])
	}

	wrapped := Wrap(err, KindInternal, "failed")
	wrapped = Attr(wrapped, "stage", "compile")

	allAttrs := GetAttributes(wrapped)
	if allAttrs["listener"] != "ftp" || allAttrs["stage"] != "compile" {
		t.Errorf("missing attributes: %v", allAttrs)
	}
}

func TestErrorfAndWrapf(t *testing.T) {
	err := Errorf(KindValidation, "unknown protocol %q, want tcp or udp", "sctp")
	want := `unknown protocol "sctp", want tcp or udp`
	if err.Error() != want {
		t.Errorf("Errorf: got %q, want %q", err.Error(), want)
	}

	wrapped := Wrapf(err, KindConflict, "listener %q", "ftp")
	if GetKind(wrapped) != KindConflict {
		t.Errorf("expected KindConflict, got %v", GetKind(wrapped))
	}

	if Wrapf(nil, KindInternal, "no-op") != nil {
		t.Errorf("Wrapf(nil, ...) should return nil")
	}
	if Wrap(nil, KindInternal, "no-op") != nil {
		t.Errorf("Wrap(nil, ...) should return nil")
	}
}
