package backend

import (
	"errors"
	"reflect"
	"testing"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

const feature1 = `{"type":"Feature","id":1,"geometry":{"type":"Point","coordinates":[77.209,28.6139]},
	"properties":{"title":"Pothole on Janpath","category_name":"Roads","status":"reported","status_display":"Reported","upvotes":4,"downvotes":1}}`
const feature2 = `{"type":"Feature","id":2,"geometry":{"type":"Point","coordinates":[77.21,28.62]},
	"properties":{"title":"Streetlight out","category_name":"Electricity","status":"resolved","status_display":"Resolved","upvotes":2,"downvotes":0}}`

const plain1 = `{"id":1,"title":"Pothole on Janpath","category_name":"Roads","status":"reported","status_display":"Reported","upvotes":4,"downvotes":1,
	"location":{"type":"Point","coordinates":[77.209,28.6139]}}`
const plain2 = `{"id":"2","title":"Streetlight out","category":{"id":5,"name":"Electricity"},"status":"resolved","status_display":"Resolved","upvotes":2,"downvotes":0,
	"location_lat":28.62,"location_lng":77.21}`

func TestDecodeIssues_AllShapesNormalizeAlike(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		shape string
	}{
		{"bare feature collection", `{"type":"FeatureCollection","features":[` + feature1 + `,` + feature2 + `]}`, ShapeFeatureCollection},
		{"paginated feature collection", `{"count":2,"next":null,"previous":null,"results":{"type":"FeatureCollection","features":[` + feature1 + `,` + feature2 + `]}}`, ShapePaginatedFeatureCollection},
		{"paginated array", `{"count":2,"next":null,"results":[` + plain1 + `,` + plain2 + `]}`, ShapePaginatedArray},
		{"bare array", `[` + plain1 + `,` + plain2 + `]`, ShapeArray},
	}

	want := []domain.Issue{
		{ID: "1", Title: "Pothole on Janpath", Category: "Roads", Status: domain.StatusReported, StatusDisplay: "Reported", Upvotes: 4, Downvotes: 1, Location: domain.GeoPoint{Lat: 28.6139, Lng: 77.209}},
		{ID: "2", Title: "Streetlight out", Category: "Electricity", Status: domain.StatusResolved, StatusDisplay: "Resolved", Upvotes: 2, Location: domain.GeoPoint{Lat: 28.62, Lng: 77.21}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, shape, err := decodeIssues([]byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if shape != tt.shape {
				t.Errorf("expected shape %s, got %s", tt.shape, shape)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("normalized issues differ:\n got %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestDecodeIssues_EmptyCollections(t *testing.T) {
	for _, body := range []string{
		`{"type":"FeatureCollection","features":[]}`,
		`{"count":0,"results":[]}`,
		`{"count":0,"results":{"type":"FeatureCollection","features":[]}}`,
		`[]`,
	} {
		got, err := DecodeIssues([]byte(body))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", body, err)
		}
		if len(got) != 0 {
			t.Errorf("%s: expected no issues, got %d", body, len(got))
		}
	}
}

func TestDecodeIssues_Malformed(t *testing.T) {
	_, err := DecodeIssues([]byte(`<html>502 Bad Gateway</html>`))
	if !errors.Is(err, domain.ErrNetworkFailure) {
		t.Errorf("expected ErrNetworkFailure, got %v", err)
	}
}

func TestDecodeIssues_SkipsItemsWithoutID(t *testing.T) {
	got, err := DecodeIssues([]byte(`[{"title":"orphan"},` + plain1 + `]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("expected only issue 1, got %+v", got)
	}
}

func TestDecodeSolutions_StepShapes(t *testing.T) {
	body := `{"results":[
		{"id":1,"title":"Report a pothole","category_name":"Roads","success_rate":0.8,"upvotes":12,"steps":["Photograph it","File with the ward office"]},
		{"id":2,"title":"Fix a streetlight","category":{"id":5,"name":"Electricity"},"steps":[{"step":1,"description":"Note the pole number"},{"title":"Call the helpline"}]}
	]}`
	got, err := DecodeSolutions([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 solutions, got %d", len(got))
	}
	if got[0].Category != "Roads" || len(got[0].Steps) != 2 || got[0].SuccessRate != 0.8 {
		t.Errorf("unexpected first solution: %+v", got[0])
	}
	if got[1].Category != "Electricity" {
		t.Errorf("expected nested category name, got %q", got[1].Category)
	}
	if !reflect.DeepEqual(got[1].Steps, []string{"Note the pole number", "Call the helpline"}) {
		t.Errorf("unexpected steps: %v", got[1].Steps)
	}
}

func TestDecodeTally_SuccessRateOnly(t *testing.T) {
	tally, err := DecodeTally([]byte(`{"success_rate":0.75}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tally.SuccessRate == nil || *tally.SuccessRate != 0.75 {
		t.Errorf("expected success rate 0.75, got %+v", tally)
	}
}
