package bootstrap

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dunamismax/flagbooth/internal/config"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/location"
	"github.com/dunamismax/flagbooth/internal/ratelimit"
)

func TestCatalogPhaseOverrideWinsOverFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "campaign.yaml")
	data := []byte(`phase: group_stage
overrides:
  - location_id: west-end
    phase: knockout_r16
    country: Brazil
`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write campaign: %v", err)
	}

	catalog, err := Catalog(config.CampaignConfig{File: file, Phase: location.PhaseKnockoutR16})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	loc, err := catalog.Effective("west-end")
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if loc.Country != "Brazil" || !loc.Knockout {
		t.Fatalf("expected knockout override, got %+v", loc)
	}
}

func TestFrameSourceSelection(t *testing.T) {
	if src := FrameSource(config.FramesConfig{}, nil); src != nil {
		t.Fatalf("expected nil source, got %T", src)
	}
	if _, ok := FrameSource(config.FramesConfig{AssetDir: "/frames"}, nil).(frame.DirSource); !ok {
		t.Fatal("expected directory source")
	}
	src := FrameSource(config.FramesConfig{ObjectPrefix: "frames"}, stubObjects{})
	if s, ok := src.(frame.ObjectStoreSource); !ok || s.Prefix != "frames" {
		t.Fatalf("expected object store source, got %#v", src)
	}
}

func TestRateLimiterBackends(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	l, closer, err := RateLimiter(config.RateLimitConfig{Backend: "none"}, config.QueueConfig{}, logger)
	if err != nil || l != nil || closer == nil {
		t.Fatalf("expected disabled limiter, got %v %v %v", l, closer, err)
	}

	l, _, err = RateLimiter(config.RateLimitConfig{Backend: "memory", Capacity: 5, Window: time.Minute}, config.QueueConfig{}, logger)
	if err != nil {
		t.Fatalf("memory limiter: %v", err)
	}
	if _, ok := l.(*ratelimit.MemoryTokenBucket); !ok {
		t.Fatalf("expected memory limiter, got %T", l)
	}

	if _, _, err := RateLimiter(config.RateLimitConfig{Backend: "carrier-pigeon"}, config.QueueConfig{}, logger); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestJobStoreDefaultsToMemory(t *testing.T) {
	jobs, closer, err := JobStore(context.Background(), config.DatabaseConfig{}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("job store: %v", err)
	}
	if jobs == nil || closer.Close() != nil {
		t.Fatal("expected usable memory store")
	}
}

type stubObjects struct{}

func (stubObjects) ReadObject(context.Context, string) ([]byte, error) { return nil, nil }
