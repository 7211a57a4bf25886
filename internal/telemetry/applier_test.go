package telemetry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/vesaa/cncmate/internal/models"
	"github.com/vesaa/cncmate/internal/realtime"
	"github.com/vesaa/cncmate/internal/store"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestApplier_PersistsOnlyTheNamedMetric(t *testing.T) {
	tests := []struct {
		metric string
		raw    any
		check  func(m *models.Machine) bool
	}{
		{MetricTemperature, "51.7", func(m *models.Machine) bool { return m.Temperature == 52 }},
		{MetricRPM, 2345.4, func(m *models.Machine) bool { return m.RPM == 2345 }},
		{MetricVibration, 3.14159, func(m *models.Machine) bool { return m.Vibration == 3.14 }},
		{MetricUsage, "66.666", func(m *models.Machine) bool { return m.Usage == 66.67 }},
		{MetricPower, 9.999, func(m *models.Machine) bool { return m.Power == 10 }},
		{MetricStatus, "Maintenance", func(m *models.Machine) bool { return m.Status == models.MachineMaintenance }},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			st := newTestStore(t)
			addMachine(t, st, "m1", models.MachineRunning)
			ctx := context.Background()
			before, _ := st.GetMachine(ctx, "m1")

			rec := &recorder{}
			a := NewApplier(st, rec, ApplierOptions{})
			ok, err := a.Apply(ctx, Sample{MachineID: "m1", Metric: tt.metric, Value: tt.raw})
			if err != nil || !ok {
				t.Fatalf("Apply = %v, %v", ok, err)
			}

			after, _ := st.GetMachine(ctx, "m1")
			if !tt.check(after) {
				t.Errorf("stored machine = %+v", after)
			}
			// Every other telemetry field is untouched.
			restore := *after
			switch tt.metric {
			case MetricTemperature:
				restore.Temperature = before.Temperature
			case MetricRPM:
				restore.RPM = before.RPM
			case MetricVibration:
				restore.Vibration = before.Vibration
			case MetricUsage:
				restore.Usage = before.Usage
			case MetricPower:
				restore.Power = before.Power
			case MetricStatus:
				restore.Status = before.Status
			}
			if restore.Temperature != before.Temperature || restore.RPM != before.RPM ||
				restore.Vibration != before.Vibration || restore.Usage != before.Usage ||
				restore.Power != before.Power || restore.Status != before.Status ||
				restore.Name != before.Name {
				t.Errorf("unrelated fields changed: before %+v after %+v", before, after)
			}

			evs := rec.all()
			if len(evs) != 1 || evs[0].Type != realtime.TypeMachineUpdate {
				t.Fatalf("events = %+v, want one machine_update", evs)
			}
			data := evs[0].Data.(map[string]any)
			if data["machineId"] != "m1" || len(data) != 2 {
				t.Errorf("delta = %v, want machineId plus %s only", data, tt.metric)
			}
		})
	}
}

func TestApplier_UnknownMachineIsNoop(t *testing.T) {
	st := newTestStore(t)
	addMachine(t, st, "m1", models.MachineIdle)
	rec := &recorder{}
	a := NewApplier(st, rec, ApplierOptions{})

	ok, err := a.Apply(context.Background(), Sample{MachineID: "ghost", Metric: MetricRPM, Value: 1000})
	if ok || err != nil {
		t.Fatalf("Apply(ghost) = %v, %v; want false, nil", ok, err)
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("broadcast %d events for unknown machine", n)
	}
	ids, _ := st.ListMachineIDs(context.Background())
	if len(ids) != 1 {
		t.Errorf("store has %d machines, want 1", len(ids))
	}
}

func TestApplier_InvalidStatusNotPersisted(t *testing.T) {
	st := newTestStore(t)
	addMachine(t, st, "m1", models.MachineIdle)
	rec := &recorder{}
	a := NewApplier(st, rec, ApplierOptions{})

	_, err := a.Apply(context.Background(), Sample{MachineID: "m1", Metric: MetricStatus, Value: "on fire"})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("Apply error = %v, want ErrInvalidStatus", err)
	}
	m, _ := st.GetMachine(context.Background(), "m1")
	if m.Status != models.MachineIdle {
		t.Errorf("status = %q, want idle", m.Status)
	}
	if len(rec.all()) != 0 {
		t.Error("invalid status was broadcast")
	}
	if err := a.ApplyStatus(context.Background(), "m1", "on fire"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("ApplyStatus error = %v, want ErrInvalidStatus", err)
	}
}

func TestApplier_SameMachineKeepsArrivalOrder(t *testing.T) {
	st := newTestStore(t)
	addMachine(t, st, "m1", models.MachineRunning)
	addMachine(t, st, "m2", models.MachineRunning)
	rec := &recorder{}
	a := NewApplier(st, rec, ApplierOptions{Shards: 4, Queue: 8})
	ctx := context.Background()
	a.Start(ctx)
	defer a.Stop()

	const n = 50
	for i := 1; i <= n; i++ {
		for _, id := range []string{"m1", "m2"} {
			if err := a.Submit(ctx, Sample{MachineID: id, Metric: MetricRPM, Value: 1000 + i}); err != nil {
				t.Fatalf("Submit: %v", err)
			}
		}
	}
	waitFor(t, "all samples applied", func() bool { return len(rec.all()) == 2*n })

	last := map[string]int{}
	for _, ev := range rec.all() {
		data := ev.Data.(map[string]any)
		id := data["machineId"].(string)
		rpm := data[MetricRPM].(int)
		if rpm <= last[id] {
			t.Fatalf("%s broadcast rpm %d after %d", id, rpm, last[id])
		}
		last[id] = rpm
	}
	for _, id := range []string{"m1", "m2"} {
		m, _ := st.GetMachine(ctx, id)
		if m.RPM != 1000+n {
			t.Errorf("%s rpm = %d, want %d", id, m.RPM, 1000+n)
		}
	}
}

func TestApplier_SubmitAfterStop(t *testing.T) {
	a := NewApplier(newTestStore(t), &recorder{}, ApplierOptions{})
	a.Start(context.Background())
	a.Stop()
	a.Stop()
	if err := a.Submit(context.Background(), Sample{MachineID: "m1", Metric: MetricRPM, Value: 1}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after Stop = %v, want ErrStopped", err)
	}
}

func TestApplier_SubmitHonoursContext(t *testing.T) {
	// Not started: the single one-slot shard fills and Submit must give up.
	a := NewApplier(newTestStore(t), &recorder{}, ApplierOptions{Shards: 1, Queue: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Submit(ctx, Sample{MachineID: "m1", Metric: MetricRPM, Value: 1}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := a.Submit(ctx, Sample{MachineID: "m1", Metric: MetricRPM, Value: 2}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit on full queue = %v, want deadline exceeded", err)
	}
}

// newMockStore puts sqlmock behind the gorm MySQL dialector.
func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		sqlDB.Close()
	})
	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening gorm on sqlmock: %v", err)
	}
	return store.New(gdb), mock
}

func TestApplier_PersistFailureSkipsBroadcast(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE `machines` SET").WillReturnError(fmt.Errorf("connection reset by peer"))

	rec := &recorder{}
	a := NewApplier(st, rec, ApplierOptions{})
	ok, err := a.Apply(context.Background(), Sample{MachineID: "m1", Metric: MetricTemperature, Value: 44})
	if ok || err == nil {
		t.Fatalf("Apply = %v, %v; want failure", ok, err)
	}
	if len(rec.all()) != 0 {
		t.Error("unpersisted sample was broadcast")
	}
}

func TestApplier_ZeroRowsIsUnknownMachine(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE `machines` SET").WillReturnResult(sqlmock.NewResult(0, 0))

	rec := &recorder{}
	a := NewApplier(st, rec, ApplierOptions{})
	ok, err := a.Apply(context.Background(), Sample{MachineID: "gone", Metric: MetricPower, Value: 5})
	if ok || err != nil {
		t.Fatalf("Apply = %v, %v; want false, nil", ok, err)
	}
	if len(rec.all()) != 0 {
		t.Error("broadcast for a machine that does not exist")
	}
}

func TestApplier_Broadcast(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE `machines` SET").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := &recorder{}
	a := NewApplier(st, rec, ApplierOptions{})
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	ok, err := a.Apply(context.Background(), Sample{MachineID: "m1", Metric: MetricVibration, Value: "1.005", At: at})
	if !ok || err != nil {
		t.Fatalf("Apply = %v, %v", ok, err)
	}
	ev := rec.all()[0]
	if !ev.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want sample time %v", ev.Timestamp, at)
	}
	if v := ev.Data.(map[string]any)[MetricVibration]; v != models.Round2(1.005) {
		t.Errorf("vibration = %v, want normalised value", v)
	}
}
