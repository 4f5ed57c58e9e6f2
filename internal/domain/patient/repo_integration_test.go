package patient

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fl1X12/doctor-side-sub000/internal/platform/db"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/mongodb/mongotest"
	"github.com/fl1X12/doctor-side-sub000/migrations"
)

// Both stores must behave identically; the same checks run against each.

func TestPatientRepoMongo_Integration(t *testing.T) {
	database := mongotest.Database(t)
	repo, err := NewPatientRepoMongo(context.Background(), database)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	runRepositoryContract(t, repo)
}

func TestPatientRepoPG_Integration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url, 4, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE patient`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	runRepositoryContract(t, NewPatientRepoPG(pool))
}

func runRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	svc := NewService(repo, WithClock(func() time.Time { return now }))

	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	first, err := svc.CreatePatient(ctx, NewPatient{UHINo: "U100", PatientName: "Jane Doe"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := svc.CreatePatient(ctx, NewPatient{UHINo: "U101", PatientName: "Mary Roe", Redirection: RedirectionGynecology})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.SlNo != 2 {
		t.Errorf("expected slNo 2, got %d", second.SlNo)
	}

	t.Run("duplicate uhiNo", func(t *testing.T) {
		err := repo.Create(ctx, &Patient{UHINo: "U100", PatientName: "Other", Status: StatusWaiting, CreatedAt: now, UpdatedAt: now})
		expectKind(t, err, KindDuplicateKey)
	})

	t.Run("concurrent admissions of one uhiNo", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 5)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = repo.Create(ctx, &Patient{UHINo: "RACE", PatientName: "R", Status: StatusWaiting, CreatedAt: now, UpdatedAt: now})
			}(i)
		}
		wg.Wait()
		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
			} else if KindOf(err) != KindDuplicateKey {
				t.Errorf("unexpected error: %v", err)
			}
		}
		if ok != 1 {
			t.Errorf("expected exactly one insert, got %d", ok)
		}
	})

	t.Run("lookups", func(t *testing.T) {
		got, err := repo.GetByUHINo(ctx, "U100")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ID != first.ID || got.PatientName != "Jane Doe" || got.Jaundice != SeverityAbsent {
			t.Errorf("unexpected record: %+v", got)
		}
		byID, err := repo.GetByID(ctx, first.ID)
		if err != nil || byID.UHINo != "U100" {
			t.Errorf("get by id: %v %+v", err, byID)
		}
		_, err = repo.GetByUHINo(ctx, "NOPE")
		expectKind(t, err, KindNotFound)
		_, err = repo.GetByID(ctx, "not-an-id")
		expectKind(t, err, KindNotFound)
		exists, err := repo.ExistsByUHINo(ctx, "U101")
		if err != nil || !exists {
			t.Errorf("expected U101 to exist: %v", err)
		}
	})

	t.Run("vitals and readings", func(t *testing.T) {
		v := Vitals{Temperature: "98.6", RespiratoryRate: "18", OxygenSaturation: "99", Weight: "62", Feet: SeverityMild}
		p, err := svc.SaveVitals(ctx, first.ID, v)
		if err != nil {
			t.Fatalf("save vitals: %v", err)
		}
		if p.Feet != SeverityMild || p.Weight != "62" || p.VisitDate == nil {
			t.Errorf("unexpected vitals: %+v", VitalsOf(p))
		}

		for _, raw := range []string{"120/80", "124/82"} {
			if _, err := svc.AppendParameterMeasurement(ctx, first.ID, Measurement{Type: ParamBloodPressure, Value: raw}); err != nil {
				t.Fatalf("append %s: %v", raw, err)
			}
		}
		p, err = svc.AppendParameterMeasurement(ctx, first.ID, Measurement{Type: ParamHemoglobin, Value: "11.4"})
		if err != nil {
			t.Fatalf("append hb: %v", err)
		}
		bp := p.Parameter(ParamBloodPressure)
		if bp == nil || len(bp.Values) != 2 || bp.Values[1].Value.String() != "124/82" {
			t.Errorf("unexpected bp series: %+v", bp)
		}
		if hb := p.Parameter(ParamHemoglobin); hb == nil || len(hb.Values) != 1 {
			t.Errorf("unexpected hb series: %+v", hb)
		}
	})

	t.Run("concurrent appends keep every reading", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.AppendParameterMeasurement(ctx, second.ID, Measurement{Type: ParamGlucose, Value: "90"})
				if err != nil {
					t.Errorf("append: %v", err)
				}
			}()
		}
		wg.Wait()
		p, err := repo.GetByID(ctx, second.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if g := p.Parameter(ParamGlucose); g == nil || len(g.Values) != 10 {
			t.Errorf("expected 10 glucose readings, got %+v", g)
		}
		if len(p.Parameters) != 1 {
			t.Errorf("expected a single glucose series, got %d", len(p.Parameters))
		}
	})

	t.Run("notes summary intake", func(t *testing.T) {
		if _, err := svc.AppendNote(ctx, first.ID, "Iron supplements", []string{"recheck Hb"}); err != nil {
			t.Fatalf("note: %v", err)
		}
		if _, err := svc.UpdateSummary(ctx, first.ID, "stable"); err != nil {
			t.Fatalf("summary: %v", err)
		}
		age := 31
		p, err := svc.UpdateIntake(ctx, "U100", Intake{Details: &Details{Age: &age, Phone: "555-0100"}})
		if err != nil {
			t.Fatalf("intake: %v", err)
		}
		if len(p.Notes) != 1 || p.Notes[0].ImportantPoints[0] != "recheck Hb" {
			t.Errorf("unexpected notes: %+v", p.Notes)
		}
		if p.Summary != "stable" || p.Details == nil || *p.Details.Age != 31 {
			t.Errorf("unexpected record: %+v", p)
		}
	})

	t.Run("status listing", func(t *testing.T) {
		if _, err := svc.MarkCompleted(ctx, "U100"); err != nil {
			t.Fatalf("complete: %v", err)
		}
		waiting, err := repo.ListByStatus(ctx, StatusWaiting)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, p := range waiting {
			if p.UHINo == "U100" {
				t.Error("completed record still listed as waiting")
			}
		}
		completed, err := repo.ListByStatus(ctx, StatusCompleted)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(completed) != 1 || completed[0].UHINo != "U100" {
			t.Errorf("unexpected completed listing: %+v", completed)
		}
	})
}
