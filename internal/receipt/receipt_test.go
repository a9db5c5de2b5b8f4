package receipt

import (
	"errors"
	"testing"
	"time"
)

func TestIssueVerify(t *testing.T) {
	s := NewSigner("secret", time.Hour)
	tok, err := s.Issue("completion", "42", "subject-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	c, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.RecordKind != "completion" || c.RecordID != "42" || c.SubjectID != "subject-1" {
		t.Errorf("claims = %+v", c)
	}
}

func TestVerifyRejects(t *testing.T) {
	s := NewSigner("secret", time.Hour)
	tok, _ := s.Issue("completion", "42", "")

	other := NewSigner("other", time.Hour)
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidReceipt) {
		t.Errorf("wrong secret: %v", err)
	}

	expired := NewSigner("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _ := expired.Issue("completion", "1", "")
	if _, err := s.Verify(old); !errors.Is(err, ErrInvalidReceipt) {
		t.Errorf("expired: %v", err)
	}

	if _, err := s.Verify("not-a-token"); !errors.Is(err, ErrInvalidReceipt) {
		t.Errorf("garbage: %v", err)
	}
}
