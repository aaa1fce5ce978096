package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
	"github.com/cloudlens/cost-ingest-go/internal/domain/repository"
	"github.com/cloudlens/cost-ingest-go/internal/provider"
	"github.com/cloudlens/cost-ingest-go/internal/resilience"
)

// fakeAdapter scripts a provider adapter.
type fakeAdapter struct {
	creds        *entity.Credentials
	credsErr     error
	data         entity.CostData
	dataErr      error
	synthesized  []entity.DailyPoint
	fetchCalls   int
	resolveCalls int
}

func (f *fakeAdapter) ValidateCredentials(context.Context, *entity.Credentials) bool { return true }
func (f *fakeAdapter) ResolveCredentials(context.Context, entity.CloudAccount) (*entity.Credentials, error) {
	f.resolveCalls++
	if f.credsErr != nil {
		return nil, f.credsErr
	}
	if f.creds != nil {
		return f.creds, nil
	}
	return &entity.Credentials{AccessKey: "AKIA", SecretKey: "secret", Region: "us-east-1"}, nil
}
func (f *fakeAdapter) FetchCostData(context.Context, *entity.Credentials, time.Time, time.Time) (entity.CostData, error) {
	f.fetchCalls++
	if f.dataErr != nil {
		return entity.CostData{}, f.dataErr
	}
	return f.data, nil
}
func (f *fakeAdapter) SynthesizeDailyData(entity.CostData, time.Time, time.Time) []entity.DailyPoint {
	return f.synthesized
}
func (f *fakeAdapter) FetchServiceDetails(context.Context, *entity.Credentials, string, time.Time, time.Time) ([]entity.ServiceCost, error) {
	return nil, nil
}
func (f *fakeAdapter) FetchRecommendations(context.Context, *entity.Credentials, entity.RecommendationOptions) ([]entity.Recommendation, error) {
	return nil, nil
}

// fakeCostStore records writes in memory.
type fakeCostStore struct {
	daily        []entity.NormalizedCostPoint
	summaries    []entity.MonthlySummary
	services     map[string][]entity.ServiceCost
	periods      []entity.ExportPeriodData
	saveErr      error
	dailyQueries []string
}

func newFakeCostStore() *fakeCostStore {
	return &fakeCostStore{services: make(map[string][]entity.ServiceCost)}
}

func (f *fakeCostStore) UpsertDailyPoints(_ context.Context, points []entity.NormalizedCostPoint) error {
	f.daily = append(f.daily, points...)
	return nil
}
func (f *fakeCostStore) UpsertMonthlySummary(_ context.Context, summary entity.MonthlySummary, services []entity.ServiceCost) error {
	f.summaries = append(f.summaries, summary)
	f.services[summary.Period] = services
	return nil
}
func (f *fakeCostStore) SaveExportPeriod(_ context.Context, period entity.ExportPeriodData) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.periods = append(f.periods, period)
	return nil
}
func (f *fakeCostStore) GetDailyCosts(_ context.Context, _ uint, providerID string, _ *uint, _, _ time.Time) ([]entity.NormalizedCostPoint, error) {
	f.dailyQueries = append(f.dailyQueries, providerID)
	return f.daily, nil
}

// fakeAccountStore serves scripted accounts.
type fakeAccountStore struct {
	accounts map[uint]entity.CloudAccount
	disabled []uint
}

func newFakeAccountStore(accounts ...entity.CloudAccount) *fakeAccountStore {
	s := &fakeAccountStore{accounts: make(map[uint]entity.CloudAccount)}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (f *fakeAccountStore) GetAccount(_ context.Context, id uint) (entity.CloudAccount, error) {
	a, ok := f.accounts[id]
	if !ok {
		return entity.CloudAccount{}, fmt.Errorf("account %d not found", id)
	}
	return a, nil
}
func (f *fakeAccountStore) ListActiveAccounts(context.Context) ([]entity.CloudAccount, error) {
	var out []entity.CloudAccount
	for _, a := range f.accounts {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}
func (f *fakeAccountStore) SetExportEnabled(_ context.Context, accountID uint, enabled bool) error {
	a := f.accounts[accountID]
	a.ExportEnabled = enabled
	f.accounts[accountID] = a
	if !enabled {
		f.disabled = append(f.disabled, accountID)
	}
	return nil
}

// fakeConfigStore holds export configs in memory.
type fakeConfigStore struct {
	configs map[uint]*entity.ExportConfig
	nextID  uint
}

func newFakeConfigStore(configs ...entity.ExportConfig) *fakeConfigStore {
	s := &fakeConfigStore{configs: make(map[uint]*entity.ExportConfig), nextID: 100}
	for i := range configs {
		c := configs[i]
		s.configs[c.ID] = &c
	}
	return s
}

func (f *fakeConfigStore) Create(_ context.Context, cfg *entity.ExportConfig) error {
	f.nextID++
	cfg.ID = f.nextID
	f.configs[cfg.ID] = cfg
	return nil
}
func (f *fakeConfigStore) Delete(_ context.Context, id uint) error {
	delete(f.configs, id)
	return nil
}
func (f *fakeConfigStore) GetByAccount(_ context.Context, accountID uint) (entity.ExportConfig, error) {
	for _, c := range f.configs {
		if c.AccountID == accountID {
			return *c, nil
		}
	}
	return entity.ExportConfig{}, fmt.Errorf("no export config for account %d", accountID)
}
func (f *fakeConfigStore) ListPollable(context.Context) ([]entity.ExportConfig, error) {
	var out []entity.ExportConfig
	for _, c := range f.configs {
		switch c.Status {
		case entity.ExportProvisioning, entity.ExportActive, entity.ExportError:
			out = append(out, *c)
		}
	}
	return out, nil
}
func (f *fakeConfigStore) UpdateStatus(_ context.Context, id uint, status entity.ExportStatus, message string) error {
	if c, ok := f.configs[id]; ok {
		c.Status = status
		c.StatusMessage = message
	}
	return nil
}
func (f *fakeConfigStore) MarkRun(_ context.Context, id uint, manifestKey string, at time.Time) error {
	if c, ok := f.configs[id]; ok {
		c.LastManifest = manifestKey
		c.LastRunAt = &at
	}
	return nil
}

// fakeLedger is an in-memory ingestion ledger.
type fakeLedger struct {
	logs   map[string]*entity.IngestionLog
	nextID uint
	begun  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{logs: make(map[string]*entity.IngestionLog)}
}

func ledgerKey(configID uint, period, manifest string) string {
	return fmt.Sprintf("%d|%s|%s", configID, period, manifest)
}

func (f *fakeLedger) Find(_ context.Context, configID uint, period, manifestKey string) (*entity.IngestionLog, error) {
	if log, ok := f.logs[ledgerKey(configID, period, manifestKey)]; ok {
		copied := *log
		return &copied, nil
	}
	return nil, nil
}
func (f *fakeLedger) BeginProcessing(_ context.Context, log *entity.IngestionLog) error {
	f.begun++
	key := ledgerKey(log.ExportConfigID, log.BillingPeriod, log.ManifestKey)
	if existing, ok := f.logs[key]; ok {
		log.ID = existing.ID
	} else {
		f.nextID++
		log.ID = f.nextID
	}
	log.Status = entity.IngestionProcessing
	copied := *log
	f.logs[key] = &copied
	return nil
}
func (f *fakeLedger) byID(id uint) *entity.IngestionLog {
	for _, log := range f.logs {
		if log.ID == id {
			return log
		}
	}
	return nil
}
func (f *fakeLedger) MarkCompleted(_ context.Context, id uint, rows int64, totalCost float64, at time.Time) error {
	if log := f.byID(id); log != nil {
		log.Status = entity.IngestionCompleted
		log.RowsProcessed = rows
		log.TotalCost = totalCost
		log.CompletedAt = &at
	}
	return nil
}
func (f *fakeLedger) MarkError(_ context.Context, id uint, message string, at time.Time) error {
	if log := f.byID(id); log != nil {
		log.Status = entity.IngestionError
		log.ErrorMessage = message
		log.CompletedAt = &at
	}
	return nil
}

// fakeNotifier records notifications.
type fakeNotifier struct {
	notices []string
}

func (f *fakeNotifier) Notify(_ context.Context, userID uint, kind, message string) error {
	f.notices = append(f.notices, fmt.Sprintf("%d:%s:%s", userID, kind, message))
	return nil
}

// fakeCache records invalidations.
type fakeCache struct {
	invalidated []uint
}

func (f *fakeCache) InvalidateUser(_ context.Context, userID uint) {
	f.invalidated = append(f.invalidated, userID)
}

// fakeObjectStore serves scripted objects whose bodies are JSON-encoded line
// item slices, decoded by fakeDecoder. Keys in raw serve verbatim bytes
// instead, for simulating undecodable files.
type fakeObjectStore struct {
	objects []entity.ObjectInfo
	bodies  map[string][]entity.LineItem
	raw     map[string][]byte
	listErr error
	downErr error
}

func (f *fakeObjectStore) List(context.Context, string, string) ([]entity.ObjectInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.objects, nil
}
func (f *fakeObjectStore) Download(_ context.Context, _, key string) (io.ReadCloser, int64, error) {
	if f.downErr != nil {
		return nil, 0, f.downErr
	}
	if data, ok := f.raw[key]; ok {
		return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
	}
	data, err := json.Marshal(f.bodies[key])
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

type fakeObjectStoreFactory struct {
	store *fakeObjectStore
}

func (f *fakeObjectStoreFactory) ForCredentials(*entity.Credentials) repository.ObjectStore {
	return f.store
}

// fakeDecoder reads the JSON bodies produced by fakeObjectStore.
type fakeDecoder struct{}

func (fakeDecoder) Open(_ context.Context, r io.Reader, _ int64) (repository.LineItemReader, error) {
	var items []entity.LineItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, err
	}
	return &sliceReader{items: items}, nil
}

type sliceReader struct {
	items []entity.LineItem
	pos   int
}

func (s *sliceReader) Next() (entity.LineItem, error) {
	if s.pos >= len(s.items) {
		return entity.LineItem{}, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}
func (s *sliceReader) Close() error { return nil }

// fakeProvisioner scripts export provisioning.
type fakeProvisioner struct {
	provisionErr error
	provisioned  []entity.ExportSpec
	tornDown     []entity.ExportConfig
	report       entity.TeardownReport
}

func (f *fakeProvisioner) Provision(_ context.Context, _ *entity.Credentials, spec entity.ExportSpec) error {
	if f.provisionErr != nil {
		return f.provisionErr
	}
	f.provisioned = append(f.provisioned, spec)
	return nil
}
func (f *fakeProvisioner) Teardown(_ context.Context, _ *entity.Credentials, cfg entity.ExportConfig) entity.TeardownReport {
	f.tornDown = append(f.tornDown, cfg)
	return f.report
}

func testRegistry(adapter repository.ProviderAdapter) *provider.Registry {
	r := provider.NewRegistry()
	r.Register("aws", adapter, "amazon")
	return r
}

func testExecutor() *resilience.Executor {
	cfg := resilience.DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	return resilience.NewExecutor(resilience.NewRegistry(resilience.DefaultBreakerConfig()), cfg, zap.NewNop())
}
