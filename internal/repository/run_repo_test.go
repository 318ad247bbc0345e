package repository

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/inkley/sensorctl/internal/model"
)

func newTestRepo(t *testing.T) *RunRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&model.Run{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return NewRunRepository(db)
}

func TestCreate_AssignsID(t *testing.T) {
	repo := newTestRepo(t)
	run := &model.Run{Port: "/dev/ttyACM0", Mode: "realtime", StartedAt: time.Now()}
	if err := repo.Create(run); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if run.ID == 0 {
		t.Error("Expected a database ID after create")
	}
}

func TestFinish_PersistsCounters(t *testing.T) {
	repo := newTestRepo(t)
	run := &model.Run{Port: "/dev/ttyACM0", Mode: "realtime", StartedAt: time.Now()}
	if err := repo.Create(run); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.Finish(run, 1500, 3); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if run.Samples != 1500 || run.DecodeErrors != 3 || run.EndedAt == nil {
		t.Errorf("In-memory run not updated: %+v", run)
	}

	stored, err := repo.FindByPort("/dev/ttyACM0")
	if err != nil {
		t.Fatalf("FindByPort failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("Expected 1 stored run, got %d", len(stored))
	}
	if stored[0].Samples != 1500 {
		t.Errorf("Stored samples = %d, expected 1500", stored[0].Samples)
	}
	if stored[0].DecodeErrors != 3 {
		t.Errorf("Stored decode errors = %d, expected 3", stored[0].DecodeErrors)
	}
	if stored[0].EndedAt == nil {
		t.Error("Expected a stored end time")
	}
}

func TestRecent_OrdersAndLimits(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		run := &model.Run{
			Port:      "/dev/ttyACM0",
			Mode:      "realtime",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(run); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	runs, err := repo.Recent(3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if runs[i].StartedAt.After(runs[i-1].StartedAt) {
			t.Errorf("Runs out of order at %d: %v after %v", i, runs[i].StartedAt, runs[i-1].StartedAt)
		}
	}
}

func TestFindByPort_Filters(t *testing.T) {
	repo := newTestRepo(t)
	for _, port := range []string{"/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyACM0"} {
		run := &model.Run{Port: port, Mode: "buffered", StartedAt: time.Now()}
		if err := repo.Create(run); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	runs, err := repo.FindByPort("/dev/ttyACM0")
	if err != nil {
		t.Fatalf("FindByPort failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Expected 2 runs for the port, got %d", len(runs))
	}
	for _, r := range runs {
		if r.Port != "/dev/ttyACM0" {
			t.Errorf("Unexpected port in result: %s", r.Port)
		}
	}
}
