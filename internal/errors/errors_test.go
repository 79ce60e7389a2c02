package errors

import (
	"fmt"
	"testing"
)

func TestConvoError_Error(t *testing.T) {
	err := &ConvoError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "message key not found",
	}

	expected := "NOT_FOUND: message key not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("path is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "path is required" {
		t.Errorf("Message = %q, want %q", err.Message, "path is required")
	}
}

func TestNewUnknownTag(t *testing.T) {
	err := NewUnknownTag("bogus")

	if err.Code != ErrUnknownTag {
		t.Errorf("Code = %q, want %q", err.Code, ErrUnknownTag)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Details["tag"] != "bogus" {
		t.Errorf("Details[tag] = %v, want %q", err.Details["tag"], "bogus")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("message key", "file_user/main.go")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "file_user/main.go" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "file_user/main.go")
	}
	if err.Message != "message key not found: file_user/main.go" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewInvalidMessage(t *testing.T) {
	err := NewInvalidMessage("role is required")

	if err.Code != ErrInvalidMessage {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidMessage)
	}
	if err.Status != 422 {
		t.Errorf("Status = %d, want 422", err.Status)
	}
	if err.Details["reason"] != "role is required" {
		t.Errorf("Details[reason] = %v, want %q", err.Details["reason"], "role is required")
	}
}

func TestNewInternal(t *testing.T) {
	err := NewInternal(fmt.Errorf("disk full"))
	if err.Code != ErrInternal {
		t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
	}
	if err.Status != 500 {
		t.Errorf("Status = %d, want 500", err.Status)
	}
	if err.Message != "disk full" {
		t.Errorf("Message = %q, want %q", err.Message, "disk full")
	}

	nilErr := NewInternal(nil)
	if nilErr.Message != "internal error" {
		t.Errorf("Message = %q, want %q", nilErr.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	err := NewUnknownTag("x")

	if !Is(err, ErrUnknownTag) {
		t.Error("Is(err, ErrUnknownTag) = false, want true")
	}
	if Is(err, ErrNotFound) {
		t.Error("Is(err, ErrNotFound) = true, want false")
	}
	if Is(fmt.Errorf("plain"), ErrUnknownTag) {
		t.Error("Is(plain error, ErrUnknownTag) = true, want false")
	}
	if Is(nil, ErrUnknownTag) {
		t.Error("Is(nil, ErrUnknownTag) = true, want false")
	}
}

func TestIs_Wrapped(t *testing.T) {
	err := fmt.Errorf("turn 3: %w", NewUnknownTag("bogus"))

	if !Is(err, ErrUnknownTag) {
		t.Error("Is() should see through wrapping")
	}
	if Is(err, ErrNotFound) {
		t.Error("Is() matched the wrong code")
	}
	cErr, ok := As(err)
	if !ok || cErr.Details["tag"] != "bogus" {
		t.Errorf("As() = %v, %v", cErr, ok)
	}
}
