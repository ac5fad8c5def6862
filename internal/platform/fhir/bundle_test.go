package fhir

import (
	"encoding/json"
	"testing"
)

func TestNewSearchBundle(t *testing.T) {
	resources := []map[string]interface{}{
		{"resourceType": "DocumentManifest", "id": "a"},
		{"resourceType": "DocumentManifest", "id": "b"},
	}
	b := NewSearchBundle(resources, SearchBundleParams{
		BaseURL: "/fhir/DocumentManifest",
		Count:   2,
		Offset:  0,
		Total:   5,
	})

	if b.ResourceType != "Bundle" || b.Type != "searchset" {
		t.Errorf("unexpected bundle header %s/%s", b.ResourceType, b.Type)
	}
	if b.Total == nil || *b.Total != 5 {
		t.Errorf("Total = %v, want 5", b.Total)
	}
	if len(b.Entry) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(b.Entry))
	}
	if b.Entry[0].FullURL != "DocumentManifest/a" {
		t.Errorf("FullURL = %q", b.Entry[0].FullURL)
	}
	if b.Entry[1].Search == nil || b.Entry[1].Search.Mode != "match" {
		t.Error("expected search mode match")
	}

	var res map[string]interface{}
	if err := json.Unmarshal(b.Entry[0].Resource, &res); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if res["id"] != "a" {
		t.Errorf("entry id = %v", res["id"])
	}
}

func TestNewSearchBundle_Links(t *testing.T) {
	tests := []struct {
		name   string
		params SearchBundleParams
		rels   []string
	}{
		{"first page", SearchBundleParams{BaseURL: "/x", Count: 10, Offset: 0, Total: 25}, []string{"self", "next"}},
		{"middle page", SearchBundleParams{BaseURL: "/x", Count: 10, Offset: 10, Total: 25}, []string{"self", "next", "previous"}},
		{"last page", SearchBundleParams{BaseURL: "/x", Count: 10, Offset: 20, Total: 25}, []string{"self", "previous"}},
		{"empty", SearchBundleParams{BaseURL: "/x", Count: 10}, []string{"self"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewSearchBundle(nil, tt.params)
			if len(b.Link) != len(tt.rels) {
				t.Fatalf("links = %+v, want relations %v", b.Link, tt.rels)
			}
			for i, rel := range tt.rels {
				if b.Link[i].Relation != rel {
					t.Errorf("link[%d] = %q, want %q", i, b.Link[i].Relation, rel)
				}
			}
		})
	}
}

func TestNewSearchBundle_SelfLinkKeepsQuery(t *testing.T) {
	b := NewSearchBundle(nil, SearchBundleParams{BaseURL: "/fhir/DocumentManifest", QueryStr: "status=current", Count: 20})
	want := "/fhir/DocumentManifest?status=current&_count=20&_offset=0"
	if b.Link[0].URL != want {
		t.Errorf("self = %q, want %q", b.Link[0].URL, want)
	}
}
