// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package enrichment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/cpaumelle/sensemy-iot-platform/internal/config"
	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
	"github.com/cpaumelle/sensemy-iot-platform/internal/twinning"
)

// fakeStore is an in-memory Store for orchestrator tests.
type fakeStore struct {
	claims    map[uuid.UUID]bool
	pending   []*models.RawUplink
	processed map[uuid.UUID]*models.ProcessedUplink
	logs      []*models.EnrichmentLogEntry
	gateways  map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		claims:    map[uuid.UUID]bool{},
		processed: map[uuid.UUID]*models.ProcessedUplink{},
		gateways:  map[string]time.Time{},
	}
}

func (f *fakeStore) ClaimForProcessing(_ context.Context, id uuid.UUID) (bool, error) {
	if f.claims[id] {
		return false, nil
	}
	f.claims[id] = true
	return true, nil
}

func (f *fakeStore) ReleaseClaim(_ context.Context, id uuid.UUID) error {
	f.claims[id] = false
	return nil
}

func (f *fakeStore) ListPendingUplinks(_ context.Context, limit int) ([]*models.RawUplink, error) {
	var out []*models.RawUplink
	for _, up := range f.pending {
		if f.claims[up.UplinkUUID] {
			continue
		}
		out = append(out, up)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) ListFailedUnpackUplinks(_ context.Context, limit int) ([]*models.RawUplink, error) {
	var out []*models.RawUplink
	for _, up := range f.pending {
		if !f.claims[up.UplinkUUID] {
			continue
		}
		if _, ok := f.processed[up.UplinkUUID]; ok {
			continue
		}
		if f.lastStep(up.UplinkUUID) != models.StepFailedUnpack {
			continue
		}
		out = append(out, up)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) CountPendingUplinks(_ context.Context) (int64, error) {
	var n int64
	for _, up := range f.pending {
		if !f.claims[up.UplinkUUID] {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) InsertProcessedUplink(_ context.Context, up *models.ProcessedUplink) error {
	if _, ok := f.processed[up.UplinkUUID]; ok {
		return nil
	}
	f.processed[up.UplinkUUID] = up
	return nil
}

func (f *fakeStore) AppendEnrichmentLog(_ context.Context, entry *models.EnrichmentLogEntry) error {
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeStore) UpsertGatewaySeen(_ context.Context, gatewayEUI string, seenAt time.Time) error {
	f.gateways[gatewayEUI] = seenAt
	return nil
}

func (f *fakeStore) MarkStaleGatewaysOffline(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) lastStep(id uuid.UUID) models.EnrichmentStep {
	var step models.EnrichmentStep
	for _, e := range f.logs {
		if e.UplinkUUID == id {
			step = e.Step
		}
	}
	return step
}

func (f *fakeStore) logsFor(id uuid.UUID) []*models.EnrichmentLogEntry {
	var out []*models.EnrichmentLogEntry
	for _, e := range f.logs {
		if e.UplinkUUID == id {
			out = append(out, e)
		}
	}
	return out
}

// fakeResolver returns a canned resolution or error.
type fakeResolver struct {
	res *twinning.Resolution
	err error
}

func (f *fakeResolver) Resolve(context.Context, string, string) (*twinning.Resolution, error) {
	return f.res, f.err
}

func pipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		DecodeTimeout:  time.Second,
		SweepBatchSize: 100,
	}
}

func testUplink(payloadHex string, fport int) *models.RawUplink {
	return &models.RawUplink{
		UplinkUUID: uuid.New(),
		DevEUI:     "58A0CB0000204D5E",
		ReceivedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		FPort:      fport,
		Payload:    payloadHex,
		Source:     models.SourceActility,
		GatewayEUI: "7076FF0064050123",
	}
}

func assignedResolution(unpacker string) *twinning.Resolution {
	typeID := 4
	siteID := uuid.New()
	return &twinning.Resolution{
		Context: &models.DeviceContext{
			DevEUI:         "58A0CB0000204D5E",
			DeviceTypeID:   &typeID,
			SiteID:         &siteID,
			LifecycleState: models.LifecycleAssigned,
		},
		DeviceType: &models.DeviceType{DeviceTypeID: 4, DeviceType: "Browan TBHH100", Unpacker: unpacker},
	}
}

func checkSteps(t *testing.T, entries []*models.EnrichmentLogEntry, want [][2]string) {
	t.Helper()
	if len(entries) != len(want) {
		t.Fatalf("got %d log entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if string(e.Step) != want[i][0] || string(e.Status) != want[i][1] {
			t.Errorf("entry %d = %s/%s, want %s/%s", i, e.Step, e.Status, want[i][0], want[i][1])
		}
	}
}

func TestProcessFullEnrichment(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, &fakeResolver{res: assignedResolution("browan_tbhh100")}, pipelineConfig())

	up := testUplink("080b3b42", 103)
	if err := o.Process(context.Background(), up); err != nil {
		t.Fatalf("Process: %v", err)
	}

	checkSteps(t, fs.logsFor(up.UplinkUUID), [][2]string{
		{"CONTEXT_ENRICHED", "SUCCESS"},
		{"UNPACKED", "SUCCESS"},
	})

	p, ok := fs.processed[up.UplinkUUID]
	if !ok {
		t.Fatal("expected processed row")
	}
	if p.SiteID == nil || p.DeviceTypeID == nil {
		t.Error("expected context snapshot on processed row")
	}
	if p.Source != models.SourceActility {
		t.Errorf("Source = %q, want actility", p.Source)
	}

	var fields models.DecodedFields
	if err := json.Unmarshal(p.PayloadDecoded, &fields); err != nil {
		t.Fatalf("unmarshal decoded payload: %v", err)
	}
	if fields["temperature"].Value.(float64) != 27 {
		t.Errorf("temperature = %v, want 27", fields["temperature"].Value)
	}

	if _, ok := fs.gateways["7076FF0064050123"]; !ok {
		t.Error("expected gateway sighting")
	}
}

func TestProcessClaimLoserIsNoOp(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, &fakeResolver{res: assignedResolution("browan_tbhh100")}, pipelineConfig())

	up := testUplink("080b3b42", 103)
	fs.claims[up.UplinkUUID] = true

	if err := o.Process(context.Background(), up); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(fs.logs) != 0 {
		t.Errorf("claim loser wrote %d log entries, want 0", len(fs.logs))
	}
	if len(fs.processed) != 0 {
		t.Error("claim loser wrote a processed row")
	}
}

func TestProcessUnassignedDevice(t *testing.T) {
	fs := newFakeStore()
	res := &twinning.Resolution{
		Context: &models.DeviceContext{
			DevEUI:         "58A0CB0000204D5E",
			LifecycleState: models.LifecycleUnassigned,
		},
		Created: true,
	}
	o := New(fs, &fakeResolver{res: res}, pipelineConfig())

	up := testUplink("080b3b42", 103)
	if err := o.Process(context.Background(), up); err != nil {
		t.Fatalf("Process: %v", err)
	}

	checkSteps(t, fs.logsFor(up.UplinkUUID), [][2]string{
		{"CONTEXT_ENRICHED", "SKIPPED"},
		{"UNPACKED", "SKIPPED"},
	})

	p, ok := fs.processed[up.UplinkUUID]
	if !ok {
		t.Fatal("unassigned device must still get a processed row")
	}
	if p.SiteID != nil || p.DeviceTypeID != nil || p.PayloadDecoded != nil {
		t.Error("expected null context and decoded columns")
	}
}

func TestProcessTypelessDevice(t *testing.T) {
	fs := newFakeStore()
	siteID := uuid.New()
	res := &twinning.Resolution{
		Context: &models.DeviceContext{
			DevEUI:         "58A0CB0000204D5E",
			SiteID:         &siteID,
			LifecycleState: models.LifecycleAssigned,
		},
	}
	o := New(fs, &fakeResolver{res: res}, pipelineConfig())

	up := testUplink("080b3b42", 103)
	if err := o.Process(context.Background(), up); err != nil {
		t.Fatalf("Process: %v", err)
	}

	checkSteps(t, fs.logsFor(up.UplinkUUID), [][2]string{
		{"CONTEXT_ENRICHED", "SUCCESS"},
		{"UNPACKED", "SKIPPED"},
	})

	p := fs.processed[up.UplinkUUID]
	if p == nil {
		t.Fatal("typeless device must still get a processed row")
	}
	if p.PayloadDecoded != nil {
		t.Error("expected no decoded payload")
	}
	if p.SiteID == nil {
		t.Error("expected site snapshot to survive")
	}
}

func TestProcessDecodeFailure(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, &fakeResolver{res: assignedResolution("browan_tbhh100")}, pipelineConfig())

	// Wrong port for the TBHH100 decoder.
	up := testUplink("080b3b42", 1)
	if err := o.Process(context.Background(), up); err != nil {
		t.Fatalf("Process: %v", err)
	}

	checkSteps(t, fs.logsFor(up.UplinkUUID), [][2]string{
		{"CONTEXT_ENRICHED", "SUCCESS"},
		{"FAILED_UNPACK", "FAILED"},
	})
	if len(fs.processed) != 0 {
		t.Error("decode failure must not write a processed row")
	}
	if !fs.claims[up.UplinkUUID] {
		t.Error("decode failure must keep the claim so the uplink is not re-swept")
	}
}

func TestProcessUnknownUnpacker(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, &fakeResolver{res: assignedResolution("no_such_decoder")}, pipelineConfig())

	up := testUplink("080b3b42", 103)
	if err := o.Process(context.Background(), up); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if fs.lastStep(up.UplinkUUID) != models.StepFailedUnpack {
		t.Errorf("last step = %s, want FAILED_UNPACK", fs.lastStep(up.UplinkUUID))
	}
	if len(fs.processed) != 0 {
		t.Error("unknown unpacker must not write a processed row")
	}
}

func TestProcessResolutionFailureReleasesClaim(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, &fakeResolver{err: errors.New("database unavailable")}, pipelineConfig())

	up := testUplink("080b3b42", 103)
	if err := o.Process(context.Background(), up); err == nil {
		t.Fatal("expected error from resolution failure")
	}

	checkSteps(t, fs.logsFor(up.UplinkUUID), [][2]string{
		{"FAILED", "FAILED"},
	})
	if fs.claims[up.UplinkUUID] {
		t.Error("resolution failure must release the claim for retry")
	}
	if len(fs.processed) != 0 {
		t.Error("resolution failure must not write a processed row")
	}
}

func TestSweepProcessesBatch(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, &fakeResolver{res: assignedResolution("browan_tbhh100")}, pipelineConfig())

	for range 3 {
		fs.pending = append(fs.pending, testUplink("080b3b42", 103))
	}
	o.sweep(context.Background())

	if len(fs.processed) != 3 {
		t.Errorf("processed %d uplinks, want 3", len(fs.processed))
	}
	for _, up := range fs.pending {
		if !fs.claims[up.UplinkUUID] {
			t.Errorf("uplink %s left unclaimed after sweep", up.UplinkUUID)
		}
	}
}

func TestSweepRetriesFailedUnpacks(t *testing.T) {
	fs := newFakeStore()
	resolver := &fakeResolver{res: assignedResolution("browan_tbhh100")}
	cfg := pipelineConfig()
	cfg.RetryFailedUnpacks = true
	o := New(fs, resolver, cfg)

	// First pass fails to decode: wrong port.
	up := testUplink("080b3b42", 1)
	fs.pending = append(fs.pending, up)
	o.sweep(context.Background())

	if len(fs.processed) != 0 {
		t.Fatal("expected decode failure on first pass")
	}

	// A decoder fix ships: simulate by correcting the stored port.
	up.FPort = 103
	o.sweep(context.Background())

	if _, ok := fs.processed[up.UplinkUUID]; !ok {
		t.Error("expected retry to enrich the uplink after the fix")
	}

	// Retries re-run only the decode stage: the context step keeps its
	// single audit entry from the first pass, failures may repeat, and
	// the eventual success appears exactly once.
	checkSteps(t, fs.logsFor(up.UplinkUUID), [][2]string{
		{"CONTEXT_ENRICHED", "SUCCESS"},
		{"FAILED_UNPACK", "FAILED"},
		{"FAILED_UNPACK", "FAILED"},
		{"UNPACKED", "SUCCESS"},
	})
	var contextSuccesses int
	for _, e := range fs.logsFor(up.UplinkUUID) {
		if e.Step == models.StepContextEnriched && e.Status == models.StatusSuccess {
			contextSuccesses++
		}
	}
	if contextSuccesses != 1 {
		t.Errorf("CONTEXT_ENRICHED/SUCCESS written %d times, want exactly once", contextSuccesses)
	}
}

func TestProcessCorruptHexPayload(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, &fakeResolver{res: assignedResolution("browan_tbhh100")}, pipelineConfig())

	up := testUplink("not-hex!", 103)
	if err := o.Process(context.Background(), up); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if fs.lastStep(up.UplinkUUID) != models.StepFailedUnpack {
		t.Errorf("last step = %s, want FAILED_UNPACK", fs.lastStep(up.UplinkUUID))
	}
	if len(fs.processed) != 0 {
		t.Error("corrupt payload must not write a processed row")
	}
}
