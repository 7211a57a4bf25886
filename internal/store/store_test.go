package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vesaa/cncmate/internal/config"
	"github.com/vesaa/cncmate/internal/models"
)

// newTestStore opens a private in-memory SQLite database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(&config.Config{DBDriver: "sqlite", DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedMachine(t *testing.T, s *Store, id string, status models.MachineStatus) *models.Machine {
	t.Helper()
	m := &models.Machine{ID: id, Name: "Machine " + id, Type: "CNC Mill", Status: status}
	if err := s.CreateMachine(context.Background(), m); err != nil {
		t.Fatalf("creating machine %s: %v", id, err)
	}
	return m
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(&config.Config{DBDriver: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "unsupported db_driver") {
		t.Fatalf("Open() error = %v, want unsupported db_driver", err)
	}
}

func TestOpen_MissingDSN(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres"} {
		_, err := Open(&config.Config{DBDriver: driver})
		if err == nil || !strings.Contains(err.Error(), "db_dsn is required") {
			t.Errorf("Open(%s) error = %v, want db_dsn is required", driver, err)
		}
	}
}

func TestGetMachine_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetMachine(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMachine() error = %v, want ErrNotFound", err)
	}
}

func TestCreateMachine_Defaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &models.Machine{Name: "Lathe", Type: "CNC Lathe"}
	if err := s.CreateMachine(ctx, m); err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	if m.ID == "" {
		t.Error("CreateMachine did not assign an ID")
	}
	got, err := s.GetMachine(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMachine: %v", err)
	}
	if got.Status != models.MachineOffline {
		t.Errorf("Status = %q, want offline", got.Status)
	}

	bad := &models.Machine{Name: "Bad", Type: "x", Status: "exploded"}
	if err := s.CreateMachine(ctx, bad); err == nil {
		t.Error("CreateMachine accepted an invalid status")
	}
}

func TestUpdateMachineTelemetry_OnlyNamedColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", models.MachineRunning)

	if err := s.UpdateMachineTelemetry(ctx, "m1", map[string]any{"rpm": 1500}, time.Now()); err != nil {
		t.Fatalf("UpdateMachineTelemetry(rpm): %v", err)
	}
	at := time.Now().Add(time.Second)
	if err := s.UpdateMachineTelemetry(ctx, "m1", map[string]any{"vibration": 2.35}, at); err != nil {
		t.Fatalf("UpdateMachineTelemetry(vibration): %v", err)
	}

	got, err := s.GetMachine(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMachine: %v", err)
	}
	if got.RPM != 1500 {
		t.Errorf("RPM = %d, want 1500", got.RPM)
	}
	if got.Vibration != 2.35 {
		t.Errorf("Vibration = %v, want 2.35", got.Vibration)
	}
	if got.Status != models.MachineRunning {
		t.Errorf("Status = %q, want running (untouched)", got.Status)
	}
	if got.Temperature != 0 {
		t.Errorf("Temperature = %d, want 0 (untouched)", got.Temperature)
	}
	if !got.LastDataUpdate.Equal(at) {
		t.Errorf("LastDataUpdate = %v, want %v", got.LastDataUpdate, at)
	}
}

func TestUpdateMachineTelemetry_Unknown(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateMachineTelemetry(context.Background(), "ghost", map[string]any{"rpm": 1}, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListMachines_OrderedByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, m := range []models.Machine{
		{ID: "b", Name: "Bravo", Type: "x"},
		{ID: "a", Name: "Alpha", Type: "x"},
	} {
		m := m
		if err := s.CreateMachine(ctx, &m); err != nil {
			t.Fatal(err)
		}
	}
	machines, err := s.ListMachines(ctx)
	if err != nil {
		t.Fatalf("ListMachines: %v", err)
	}
	if len(machines) != 2 || machines[0].Name != "Alpha" {
		t.Fatalf("ListMachines = %+v, want Alpha first", machines)
	}
	ids, err := s.ListMachineIDs(ctx)
	if err != nil {
		t.Fatalf("ListMachineIDs: %v", err)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Errorf("ListMachineIDs = %v, want [a b]", ids)
	}
}

func TestAssignMachine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", models.MachineIdle)

	op, job := "op-1", "job-1"
	if err := s.AssignMachine(ctx, "m1", &op, &job); err != nil {
		t.Fatalf("AssignMachine: %v", err)
	}
	got, _ := s.GetMachine(ctx, "m1")
	if got.CurrentOperatorID == nil || *got.CurrentOperatorID != op {
		t.Errorf("CurrentOperatorID = %v, want %q", got.CurrentOperatorID, op)
	}
	if err := s.AssignMachine(ctx, "missing", nil, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("AssignMachine(missing) = %v, want ErrNotFound", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", models.MachineRunning)

	j := &models.Job{JobNumber: "J-100", Description: "bracket", MachineID: "m1", OperatorID: "op"}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.Status != models.JobQueued {
		t.Errorf("Status = %q, want queued", j.Status)
	}

	if err := s.UpdateJobProgress(ctx, j.ID, 40); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}
	if err := s.UpdateJobProgress(ctx, j.ID, 140); err == nil {
		t.Error("UpdateJobProgress accepted 140")
	}

	started := time.Now()
	if err := s.UpdateJobStatus(ctx, j.ID, models.JobInProgress, started); err != nil {
		t.Fatalf("UpdateJobStatus(in_progress): %v", err)
	}
	// A second transition must not move started_at.
	if err := s.UpdateJobStatus(ctx, j.ID, models.JobInProgress, started.Add(time.Hour)); err != nil {
		t.Fatalf("UpdateJobStatus(in_progress again): %v", err)
	}
	if err := s.UpdateJobStatus(ctx, j.ID, models.JobCompleted, started.Add(2*time.Hour)); err != nil {
		t.Fatalf("UpdateJobStatus(completed): %v", err)
	}

	jobs, err := s.JobsByMachine(ctx, "m1")
	if err != nil || len(jobs) != 1 {
		t.Fatalf("JobsByMachine = %v, %v", jobs, err)
	}
	got := jobs[0]
	if got.Status != models.JobCompleted || got.Progress != 100 {
		t.Errorf("job = %+v, want completed at 100%%", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if err := s.UpdateJobStatus(ctx, j.ID, "paused", time.Now()); err == nil {
		t.Error("UpdateJobStatus accepted an invalid status")
	}
	if err := s.UpdateJobStatus(ctx, "missing", models.JobQueued, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateJobStatus(missing) = %v, want ErrNotFound", err)
	}
}

func TestDefectsAndAlerts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := &models.Defect{Type: "burr", Severity: models.SeverityHigh, Description: "edge burr", MachineID: "m1", ReportedByID: "u1"}
	if err := s.CreateDefect(ctx, d); err != nil {
		t.Fatalf("CreateDefect: %v", err)
	}
	if err := s.ResolveDefect(ctx, d.ID, time.Now()); err != nil {
		t.Fatalf("ResolveDefect: %v", err)
	}
	defects, _ := s.RecentDefects(ctx, 10)
	if len(defects) != 1 || !defects[0].Resolved {
		t.Errorf("RecentDefects = %+v, want one resolved", defects)
	}

	a := &models.Alert{Type: models.AlertTemperature, Title: "Hot", Description: "spindle hot", Severity: models.SeverityMedium}
	if err := s.CreateAlert(ctx, a); err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if err := s.CreateAlert(ctx, &models.Alert{Type: "noise", Title: "x", Description: "x", Severity: models.SeverityLow}); err == nil {
		t.Error("CreateAlert accepted an invalid type")
	}
	active, _ := s.ActiveAlerts(ctx)
	if len(active) != 1 {
		t.Fatalf("ActiveAlerts = %d, want 1", len(active))
	}
	if err := s.DismissAlert(ctx, a.ID, time.Now()); err != nil {
		t.Fatalf("DismissAlert: %v", err)
	}
	active, _ = s.ActiveAlerts(ctx)
	if len(active) != 0 {
		t.Errorf("ActiveAlerts after dismiss = %d, want 0", len(active))
	}
}

func TestEnsureUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, created, err := s.EnsureUser(ctx, "admin", "hash-1", models.RoleOwner)
	if err != nil || !created {
		t.Fatalf("EnsureUser first call = %v, %v", created, err)
	}
	again, created, err := s.EnsureUser(ctx, "admin", "hash-2", models.RoleOwner)
	if err != nil || created {
		t.Fatalf("EnsureUser second call = %v, %v", created, err)
	}
	if again.ID != u.ID || again.PasswordHash != "hash-1" {
		t.Errorf("EnsureUser overwrote the existing account: %+v", again)
	}
	byID, err := s.GetUser(ctx, u.ID)
	if err != nil || byID.Username != "admin" {
		t.Errorf("GetUser = %+v, %v", byID, err)
	}
}

func TestSnapshot_FleetCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, st := range []models.MachineStatus{
		models.MachineRunning, models.MachineRunning, models.MachineRunning,
		models.MachineIdle, models.MachineIdle,
	} {
		seedMachine(t, s, string(rune('a'+i)), st)
	}
	j := &models.Job{JobNumber: "J-1", Description: "d", MachineID: "a", OperatorID: "op", Status: models.JobInProgress}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateAlert(ctx, &models.Alert{Type: models.AlertOffline, Title: "t", Description: "d", Severity: models.SeverityLow}); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Snapshot(ctx, time.Now())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.ActiveMachines != 3 || snap.TotalMachines != 5 {
		t.Errorf("machines = %d/%d, want 3/5", snap.ActiveMachines, snap.TotalMachines)
	}
	if snap.AverageEfficiency != 60 {
		t.Errorf("AverageEfficiency = %v, want 60", snap.AverageEfficiency)
	}
	if snap.JobsToday != 1 || snap.ActiveJobs != 1 || snap.TotalJobs != 1 {
		t.Errorf("jobs = today %d active %d total %d, want 1/1/1", snap.JobsToday, snap.ActiveJobs, snap.TotalJobs)
	}
	if snap.PendingAlerts != 1 {
		t.Errorf("PendingAlerts = %d, want 1", snap.PendingAlerts)
	}
	if len(snap.Machines) != 5 {
		t.Errorf("Machines = %d, want 5", len(snap.Machines))
	}

	stats, err := s.DashboardStats(ctx, time.Now())
	if err != nil || stats != snap.DashboardStats {
		t.Errorf("DashboardStats = %+v, %v; want %+v", stats, err, snap.DashboardStats)
	}
}

func TestCreateShiftReport_Upserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMachine(t, s, "m1", models.MachineRunning)
	if err := s.CreateJob(ctx, &models.Job{JobNumber: "J-1", Description: "d", MachineID: "m1", OperatorID: "op"}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if _, err := s.CreateShiftReport(ctx, now); err != nil {
		t.Fatalf("CreateShiftReport: %v", err)
	}
	if _, err := s.CreateShiftReport(ctx, now); err != nil {
		t.Fatalf("CreateShiftReport (again): %v", err)
	}
	reports, err := s.ShiftReports(ctx, 10)
	if err != nil {
		t.Fatalf("ShiftReports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("ShiftReports = %d rows, want 1", len(reports))
	}
	if reports[0].TotalJobs != 1 || reports[0].AverageEfficiency != 100 {
		t.Errorf("report = %+v, want 1 job at 100%% efficiency", reports[0])
	}
}
