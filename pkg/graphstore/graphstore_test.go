package graphstore

import (
	"errors"
	"testing"

	"github.com/driftline/ledger/pkg/common"
)

func TestCheckEndpoints(t *testing.T) {
	tests := []struct {
		name    string
		view    common.View
		from    common.NodeKind
		to      common.NodeKind
		wantErr bool
	}{
		{name: "follows event to event", view: common.ViewFollows, from: common.NodeEvent, to: common.NodeEvent},
		{name: "follows rejects entity", view: common.ViewFollows, from: common.NodeEvent, to: common.NodeEntity, wantErr: true},
		{name: "caused_by event to event", view: common.ViewCausedBy, from: common.NodeEvent, to: common.NodeEvent},
		{name: "caused_by rejects summary", view: common.ViewCausedBy, from: common.NodeSummary, to: common.NodeEvent, wantErr: true},
		{name: "similar event to entity", view: common.ViewSimilarTo, from: common.NodeEvent, to: common.NodeEntity},
		{name: "similar entity to entity", view: common.ViewSimilarTo, from: common.NodeEntity, to: common.NodeEntity},
		{name: "similar rejects summary", view: common.ViewSimilarTo, from: common.NodeSummary, to: common.NodeEvent, wantErr: true},
		{name: "references event to entity", view: common.ViewReferences, from: common.NodeEvent, to: common.NodeEntity},
		{name: "references rejects reversed", view: common.ViewReferences, from: common.NodeEntity, to: common.NodeEvent, wantErr: true},
		{name: "summarizes summary to event", view: common.ViewSummarizes, from: common.NodeSummary, to: common.NodeEvent},
		{name: "summarizes summary to summary", view: common.ViewSummarizes, from: common.NodeSummary, to: common.NodeSummary},
		{name: "summarizes rejects event source", view: common.ViewSummarizes, from: common.NodeEvent, to: common.NodeSummary, wantErr: true},
		{name: "unknown view", view: common.View("KNOWS"), from: common.NodeEvent, to: common.NodeEvent, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckEndpoints(tt.view, tt.from, tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrConsistency) {
					t.Fatalf("expected ErrConsistency, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNormalizePair(t *testing.T) {
	if from, to := NormalizePair(common.ViewSimilarTo, "b", "a"); from != "a" || to != "b" {
		t.Fatalf("similar pair not ordered: got (%q, %q)", from, to)
	}
	if from, to := NormalizePair(common.ViewSimilarTo, "a", "b"); from != "a" || to != "b" {
		t.Fatalf("ordered pair changed: got (%q, %q)", from, to)
	}

	// directed views must keep their direction
	for _, view := range []common.View{common.ViewFollows, common.ViewCausedBy, common.ViewReferences, common.ViewSummarizes} {
		if from, to := NormalizePair(view, "b", "a"); from != "b" || to != "a" {
			t.Fatalf("%s pair reordered: got (%q, %q)", view, from, to)
		}
	}
}
