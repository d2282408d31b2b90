package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/mkaumee/Alert.Ai/internal/dispatch"
	"github.com/mkaumee/Alert.Ai/internal/incident"
	"github.com/mkaumee/Alert.Ai/internal/recipients"
)

func testNotification() dispatch.Notification {
	return dispatch.Notification{
		Incident: incident.Record{
			ID: "01JN123",
			Report: incident.Report{
				Type:        incident.TypeFire,
				Location:    incident.Location{Lat: 11.8490, Lon: 13.0568},
				ReportedAt:  time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
				Site:        "warehouse-a",
				SubLocation: "floor 2",
			},
			Status: incident.StatusVerified,
		},
		Meters: 15,
	}
}

func TestSend_PostsToTwilio(t *testing.T) {
	t.Parallel()

	var gotPath, gotFrom, gotTo, gotBody string
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotFrom = r.PostForm.Get("From")
		gotTo = r.PostForm.Get("To")
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	n := New(Config{
		AccountSID: "AC123",
		AuthToken:  "secret",
		From:       "+14155238886",
		BaseURL:    srv.URL,
	}, log.Nop())

	r := recipients.Recipient{ID: "r-1", Phone: "+2348012345678"}
	if err := n.Send(context.Background(), r, testNotification()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Errorf("path = %q", gotPath)
	}
	if gotUser != "AC123" || gotPass != "secret" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}
	if gotFrom != "whatsapp:+14155238886" {
		t.Errorf("From = %q", gotFrom)
	}
	if gotTo != "whatsapp:+2348012345678" {
		t.Errorf("To = %q", gotTo)
	}
	if !strings.Contains(gotBody, "FIRE") {
		t.Errorf("body missing emergency type:\n%s", gotBody)
	}
}

func TestSend_NoPhone(t *testing.T) {
	t.Parallel()

	n := New(Config{AccountSID: "AC123", AuthToken: "x", From: "+1"}, log.Nop())
	err := n.Send(context.Background(), recipients.Recipient{ID: "r-1"}, testNotification())
	if err == nil {
		t.Fatal("expected error for recipient without a phone number")
	}
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("authenticate"))
	}))
	defer srv.Close()

	n := New(Config{AccountSID: "AC123", AuthToken: "bad", From: "+1", BaseURL: srv.URL}, log.Nop())
	err := n.Send(context.Background(), recipients.Recipient{ID: "r-1", Phone: "+2"}, testNotification())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want to contain 401", err.Error())
	}
}

func TestMessage(t *testing.T) {
	t.Parallel()

	got := Message(testNotification())

	for _, want := range []string{
		"EMERGENCY ALERT: FIRE",
		"Site: warehouse-a",
		"Location: floor 2",
		"Time: 2026-03-01 09:30:00 UTC",
		"Distance from you: 15 m",
		"https://www.google.com/maps?q=11.849000,13.056800",
		"Coordinates: 11.849000, 13.056800",
		"Incident: 01JN123",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("message missing %q:\n%s", want, got)
		}
	}
}

func TestMessage_UnderscoredType(t *testing.T) {
	t.Parallel()

	note := testNotification()
	note.Incident.Report.Type = incident.TypeFallenPerson
	if got := Message(note); !strings.Contains(got, "FALLEN PERSON") {
		t.Errorf("message should render fallen_person as FALLEN PERSON:\n%s", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := (&Config{}).Validate(); err != nil {
		t.Errorf("all-empty config means disabled, got: %v", err)
	}
	if err := (&Config{AccountSID: "AC123"}).Validate(); err == nil {
		t.Error("partial credentials must fail validation")
	}
	full := Config{AccountSID: "AC123", AuthToken: "t", From: "+1"}
	if err := full.Validate(); err != nil {
		t.Errorf("full config: %v", err)
	}
}
