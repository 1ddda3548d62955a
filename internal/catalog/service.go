package catalog

import (
	"context"
	"log/slog"

	"github.com/statdash/statdash/internal/cache"
	"github.com/statdash/statdash/internal/dataset"
	"github.com/statdash/statdash/pkg/errors"
	"github.com/statdash/statdash/pkg/utils"
)

// ValueColumn is the column summaries read the latest observation from.
const ValueColumn = "value"

// IndicatorSummary is the overview line for one indicator.
type IndicatorSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Unit    string `json:"unit,omitempty"`
	Rows    int    `json:"rows"`
	Latest  string `json:"latest,omitempty"`
	Missing bool   `json:"missing,omitempty"`
}

// GoalSummary is the overview of every indicator under a goal.
type GoalSummary struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Indicators []IndicatorSummary `json:"indicators"`
}

// Service joins the catalog to the table cache.
type Service struct {
	catalog   *Catalog
	cache     *cache.Manager
	loader    cache.LoaderFunc
	summaries *cache.Memoizer[GoalSummary]
	logger    *slog.Logger
}

// NewService wires the catalog to mgr. Goal summaries are memoized and
// dropped whenever the cache is cleared, so they never outlive the tables
// they were computed from.
func NewService(cat *Catalog, mgr *cache.Manager, loader cache.LoaderFunc, memoCapacity int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	s := &Service{
		catalog: cat,
		cache:   mgr,
		loader:  loader,
		logger:  logger.With("component", "catalog"),
	}
	s.summaries = cache.NewMemoizer(s.summarize, memoCapacity)
	mgr.OnClear(func(string) { s.summaries.InvalidateAll() })
	return s
}

// Catalog returns the underlying catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// PreloadGoal queues every indicator of the goal for background loading.
func (s *Service) PreloadGoal(goalID string) (string, error) {
	ids, err := s.catalog.IndicatorsForGoal(goalID)
	if err != nil {
		return "", err
	}
	jobID, err := s.cache.Preload(ids, s.loader)
	if err != nil {
		return "", err
	}
	s.logger.Info("goal preload queued", "goal", goalID, "indicators", len(ids), "job", jobID)
	return jobID, nil
}

// GoalSummary returns row counts and latest values for a goal's indicators.
func (s *Service) GoalSummary(ctx context.Context, goalID string) (GoalSummary, error) {
	return s.summaries.Call(ctx, goalID)
}

func (s *Service) summarize(ctx context.Context, goalID string) (GoalSummary, error) {
	goal, ok := s.catalog.Goal(goalID)
	if !ok {
		return GoalSummary{}, errors.New(errors.ErrCodeCatalogNotFound, "unknown goal").
			WithComponent("catalog").WithKey(goalID)
	}

	summary := GoalSummary{ID: goal.ID, Name: goal.Name}
	for _, ind := range goal.Indicators {
		line := IndicatorSummary{ID: ind.ID, Name: ind.Name, Unit: ind.Unit}

		table, err := s.cache.GetOrLoad(ctx, ind.ID, s.loader)
		switch {
		case errors.HasCode(err, errors.ErrCodeSourceNotFound):
			line.Missing = true
		case err != nil:
			return GoalSummary{}, err
		default:
			line.Rows = table.Len()
			line.Latest = latestValue(table)
		}
		summary.Indicators = append(summary.Indicators, line)
	}
	return summary, nil
}

func latestValue(t *dataset.Table) string {
	if t.Empty() {
		return ""
	}
	v, _ := t.Value(t.Len()-1, ValueColumn)
	return v
}
