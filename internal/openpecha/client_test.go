package openpecha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestListExpressions(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/texts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("type"); got != "root" {
			t.Errorf("expected type=root, got %q", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "E1", "title": "མདོ", "language": "bo"},
		})
	}))
	defer upstream.Close()

	client := NewClient(upstream.URL)
	expressions, err := client.ListExpressions(context.Background(), "root")
	if err != nil {
		t.Fatalf("ListExpressions failed: %v", err)
	}
	if len(expressions) != 1 || expressions[0].ID != "E1" || expressions[0].Language != "bo" {
		t.Fatalf("unexpected expressions: %+v", expressions)
	}
}

func TestListInstances(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/texts/E1/instances" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "I1", "expression": "E1", "type": "root", "annotations": map[string]any{"segmentation": "s1"}},
		})
	}))
	defer upstream.Close()

	client := NewClient(upstream.URL)
	instances, err := client.ListInstances(context.Background(), "E1")
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(instances) != 1 || instances[0].ExpressionID != "E1" || instances[0].Type != "root" {
		t.Fatalf("unexpected instances: %+v", instances)
	}
	if !strings.Contains(string(instances[0].Annotations), "segmentation") {
		t.Fatalf("expected annotation layers passed through, got %s", instances[0].Annotations)
	}
}

func TestGetInstanceTextNotFound(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	client := NewClient(upstream.URL)
	_, err := client.GetInstanceText(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnreachableUpstream(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.ListExpressions(context.Background(), "")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
