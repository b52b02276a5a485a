package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"coinflip-backend/internal/fairness"
	"coinflip-backend/internal/models"
)

func settledRecord(t *testing.T) *models.AuditRecord {
	t.Helper()
	seed, hash, err := fairness.Commit()
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	outcome := fairness.Resolve(seed, "xyz")
	return &models.AuditRecord{
		WagerID:        "w1",
		ServerSeed:     seed,
		ServerSeedHash: hash,
		ClientSeed:     "xyz",
		Outcome:        outcome,
		WinningSide:    fairness.SideFromOutcome(outcome),
		Verified:       true,
	}
}

func TestCheck(t *testing.T) {
	rec := settledRecord(t)
	if res := check(rec); !res.ok() {
		t.Error("Expected honest record to verify")
	}

	tampered := *rec
	tampered.WinningSide = tampered.WinningSide.Opposite()
	if res := check(&tampered); res.ok() {
		t.Error("Expected flipped side to fail")
	}

	wrongSeed := *rec
	wrongSeed.ServerSeed = "00" + rec.ServerSeed[2:]
	if rec.ServerSeed[:2] == "00" {
		wrongSeed.ServerSeed = "ff" + rec.ServerSeed[2:]
	}
	if res := check(&wrongSeed); res.ok() {
		t.Error("Expected mismatched commitment to fail")
	}

	offline := &models.AuditRecord{ServerSeed: rec.ServerSeed, ServerSeedHash: rec.ServerSeedHash, ClientSeed: "xyz"}
	res := check(offline)
	if !res.ok() || res.outcome != rec.Outcome {
		t.Errorf("Offline check should recompute %v, got %v", rec.Outcome, res.outcome)
	}
	if len(res.table()) != 4 {
		t.Errorf("Expected header and three rows, got %d", len(res.table()))
	}
}

func TestFetchAudit(t *testing.T) {
	rec := settledRecord(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wagers/w1/audit" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "wager not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "audit": rec})
	}))
	defer server.Close()

	got, err := fetchAudit(context.Background(), server.Client(), server.URL+"/", "w1")
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if *got != *rec {
		t.Errorf("Expected %+v, got %+v", rec, got)
	}

	if _, err := fetchAudit(context.Background(), server.Client(), server.URL, "missing"); err == nil {
		t.Error("Expected error for missing wager")
	}
}
