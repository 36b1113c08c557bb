package artifact

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/opspulse/opspulse/internal/model"
	"github.com/opspulse/opspulse/internal/models"
)

var trainStart = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

func fitTestModel(t *testing.T) *model.Trained {
	t.Helper()
	frame := models.Frame{
		VM:       "web-01",
		Metric:   "cpu.usage.average",
		Interval: 5 * time.Minute,
		Points:   make([]models.FramePoint, 60),
	}
	for i := range frame.Points {
		frame.Points[i] = models.FramePoint{
			Timestamp: trainStart.Add(time.Duration(i) * 5 * time.Minute),
			Value:     10 + 0.5*float64(i) + math.Sin(float64(i)/4),
		}
	}
	trained, err := model.NewTrainer(10, 4, 3).Fit(frame, models.Hyperparameters{
		TrendFlexibility:    0.05,
		SeasonalityStrength: 10,
		SeasonalityMode:     models.SeasonalityAdditive,
	})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	return trained
}

func testMetadata(trained *model.Trained) models.Metadata {
	return models.Metadata{
		VM:              "web-01",
		Metric:          "cpu.usage.average",
		TrainedAt:       time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC),
		WindowStart:     trained.WindowStart,
		WindowEnd:       trained.WindowEnd,
		Hyperparameters: trained.Params,
		EvalMetrics:     models.EvalResult{MAE: 0.5, RMSE: 0.7, MAPE: 3.1},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	storage := New(t.TempDir())
	trained := fitTestModel(t)
	meta := testMetadata(trained)

	if err := storage.Save("web-01", "cpu.usage.average", trained, meta); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, loadedMeta, err := storage.Load("web-01", "cpu.usage.average")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !loadedMeta.TrainedAt.Equal(meta.TrainedAt) {
		t.Errorf("TrainedAt = %v, want %v", loadedMeta.TrainedAt, meta.TrainedAt)
	}
	if loadedMeta.Hyperparameters != meta.Hyperparameters {
		t.Errorf("Hyperparameters = %+v, want %+v", loadedMeta.Hyperparameters, meta.Hyperparameters)
	}

	// The round-tripped model must predict identically to the original.
	predictor := model.NewPredictor(0.8)
	want, err := predictor.Predict(trained, 10)
	if err != nil {
		t.Fatalf("Predict original: %v", err)
	}
	got, err := predictor.Predict(loaded, 10)
	if err != nil {
		t.Fatalf("Predict loaded: %v", err)
	}
	for i := range want {
		if math.Abs(got[i].Value-want[i].Value) > 1e-9 {
			t.Errorf("step %d: value %v != %v", i, got[i].Value, want[i].Value)
		}
		if math.Abs(got[i].Lower-want[i].Lower) > 1e-9 || math.Abs(got[i].Upper-want[i].Upper) > 1e-9 {
			t.Errorf("step %d: bounds differ after round trip", i)
		}
	}
}

func TestLoadMissingKey(t *testing.T) {
	storage := New(t.TempDir())

	_, _, err := storage.Load("nonexistent", "cpu.usage.average")
	if err == nil {
		t.Fatal("Load of missing key should fail")
	}
	if kind := models.KindOf(err); kind != models.KindNotFound {
		t.Errorf("error kind = %q, want %q", kind, models.KindNotFound)
	}
}

func TestSaveOverwritesCurrent(t *testing.T) {
	storage := New(t.TempDir())
	trained := fitTestModel(t)

	meta1 := testMetadata(trained)
	if err := storage.Save("web-01", "cpu.usage.average", trained, meta1); err != nil {
		t.Fatalf("Save: %v", err)
	}

	meta2 := meta1
	meta2.TrainedAt = meta1.TrainedAt.Add(24 * time.Hour)
	if err := storage.Save("web-01", "cpu.usage.average", trained, meta2); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, loaded, err := storage.Load("web-01", "cpu.usage.average")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.TrainedAt.Equal(meta2.TrainedAt) {
		t.Errorf("TrainedAt = %v, want overwritten value %v", loaded.TrainedAt, meta2.TrainedAt)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	storage := New(t.TempDir())
	trained := fitTestModel(t)
	meta := testMetadata(trained)

	if err := storage.Save("web-01", "cpu.usage.average", trained, meta); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, _, err := storage.Load("web-01", "mem.usage.average")
	if kind := models.KindOf(err); kind != models.KindNotFound {
		t.Errorf("error kind = %q, want %q", kind, models.KindNotFound)
	}
	_, _, err = storage.Load("web-02", "cpu.usage.average")
	if kind := models.KindOf(err); kind != models.KindNotFound {
		t.Errorf("error kind = %q, want %q", kind, models.KindNotFound)
	}
}

func TestConcurrentSaveLoad(t *testing.T) {
	storage := New(t.TempDir())
	trained := fitTestModel(t)
	meta := testMetadata(trained)

	if err := storage.Save("web-01", "cpu.usage.average", trained, meta); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := storage.Save("web-01", "cpu.usage.average", trained, meta); err != nil {
					t.Errorf("Save: %v", err)
					return
				}
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				loaded, _, err := storage.Load("web-01", "cpu.usage.average")
				if err != nil {
					t.Errorf("Load: %v", err)
					return
				}
				if loaded.N != trained.N {
					t.Errorf("partially written artifact observed: N = %d", loaded.N)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestDelete(t *testing.T) {
	storage := New(t.TempDir())
	trained := fitTestModel(t)

	if err := storage.Save("web-01", "cpu.usage.average", trained, testMetadata(trained)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := storage.Delete("web-01", "cpu.usage.average"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, _, err := storage.Load("web-01", "cpu.usage.average")
	if kind := models.KindOf(err); kind != models.KindNotFound {
		t.Errorf("error kind after delete = %q, want %q", kind, models.KindNotFound)
	}

	// Deleting a missing key is fine.
	if err := storage.Delete("web-01", "cpu.usage.average"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}
