package filter

import (
	"testing"

	"github.com/dhcgn/msg-to-json/model"
)

func TestFilter_Allows_IncludeMode(t *testing.T) {
	opts := Options{
		IncludeHeader: []string{"Subject: Test"},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := "Subject: Test Message\nFrom: sender@example.com\n"
	body := "This is the message body"

	if !f.Allows(header, body) {
		t.Error("Expected message to be allowed (header matches)")
	}

	headerNoMatch := "Subject: Other\nFrom: sender@example.com\n"
	if f.Allows(headerNoMatch, body) {
		t.Error("Expected message to be filtered out (header doesn't match)")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	opts := Options{
		ExcludeHeader: []string{"spam"},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := "Subject: Normal Message\nFrom: sender@example.com\n"
	body := "This is the message body"

	if !f.Allows(header, body) {
		t.Error("Expected message to be allowed (no spam)")
	}

	headerSpam := "Subject: This is spam\nFrom: spammer@example.com\n"
	if f.Allows(headerSpam, body) {
		t.Error("Expected message to be filtered out (contains spam)")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	opts := Options{
		IncludeHeader: []string{"test"},
		ExcludeHeader: []string{"spam"},
	}
	_, err := New(opts)
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_NoFilters(t *testing.T) {
	opts := Options{}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := "Subject: Any Message\n"
	body := "Any body content"

	if !f.Allows(header, body) {
		t.Error("Expected message to be allowed when no filters are active")
	}
}

func TestFilter_BodyFiltering(t *testing.T) {
	opts := Options{
		IncludeBody: []string{"important"},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := "Subject: Message\n"
	bodyMatch := "This is an important message"
	bodyNoMatch := "This is a regular message"

	if !f.Allows(header, bodyMatch) {
		t.Error("Expected message to be allowed (body matches)")
	}

	if f.Allows(header, bodyNoMatch) {
		t.Error("Expected message to be filtered out (body doesn't match)")
	}
}

func TestFilter_AllowsMessage(t *testing.T) {
	f, err := New(Options{ExcludeHeader: []string{`(?i)^From:.*@spam\.com`}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	spam := model.Message{
		Sender:  model.Sender{Name: "Offer", SMTP: "deals@spam.com"},
		Subject: "You won",
	}
	if f.AllowsMessage(spam) {
		t.Error("Expected synthesized From header to be filtered out")
	}

	ham := model.Message{TransportHeaders: "From: friend@example.com\r\nSubject: Lunch\r\n"}
	if !f.AllowsMessage(ham) {
		t.Error("Expected transport headers to be used and allowed")
	}
}

func TestFilter_AllowsMessage_HTMLBody(t *testing.T) {
	f, err := New(Options{IncludeBody: []string{"invoice"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.AllowsMessage(model.Message{HTMLBody: "<p>Your invoice</p>"}) {
		t.Error("Expected HTML body to be searched")
	}
}

func TestFilter_Stats(t *testing.T) {
	f, err := New(Options{IncludeHeader: []string{"alpha", "beta"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	f.Allows("Subject: alpha beta", "")
	f.Allows("Subject: beta", "")
	f.Allows("Subject: gamma", "")

	s := f.Stats()
	if s.Allowed != 2 || s.Rejected != 1 {
		t.Errorf("Allowed/Rejected = %d/%d, want 2/1", s.Allowed, s.Rejected)
	}
	want := []PatternStats{{"alpha", 1}, {"beta", 1}}
	if len(s.IncludeHeader) != len(want) {
		t.Fatalf("IncludeHeader len = %d, want %d", len(s.IncludeHeader), len(want))
	}
	for i := range want {
		if s.IncludeHeader[i] != want[i] {
			t.Errorf("IncludeHeader[%d] = %+v, want %+v", i, s.IncludeHeader[i], want[i])
		}
	}
	if !f.Active() {
		t.Error("Expected filter to be active")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{IncludeBody: []string{"("}}); err == nil {
		t.Error("Expected error for invalid regex")
	}
}
