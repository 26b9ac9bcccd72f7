package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/Dominik5397/Team-Task-Manager/pkg/audit"
	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
	"github.com/Dominik5397/Team-Task-Manager/pkg/task"
)

const (
	// DefaultDailyCompletionRate is the assumed share of active tasks completed per day
	DefaultDailyCompletionRate = 0.15
	// ForecastConfidence labels every forecast; it is not statistically derived
	ForecastConfidence = "Medium"

	// assumedAverageCompletionDays is reported until completion times are tracked
	assumedAverageCompletionDays = 5.2

	defaultQueryTimeout  = 10 * time.Second
	dashboardActivity    = 10
	widgetActivity       = 5
	dashboardWindowDays  = 30
	topPerformerCount    = 5
	maxTrendDays         = 366
	defaultActivityLimit = 10
)

// Engine derives system-wide summaries from the change log and live counts.
// Every method is read-only and bounded by the configured query timeout.
type Engine struct {
	service     *audit.Service
	counts      Counts
	now         func() time.Time
	timeout     time.Duration
	dailyRate   float64
	logger      *observability.Logger
	metrics     *observability.Metrics
	instruments *observability.OTelInstruments
}

// Option configures an Engine
type Option func(*Engine)

// WithQueryTimeout bounds every computation; 0 disables the bound
func WithQueryTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithDailyCompletionRate sets the rate assumed by the forecast
func WithDailyCompletionRate(rate float64) Option {
	return func(e *Engine) {
		if rate > 0 {
			e.dailyRate = rate
		}
	}
}

// WithClock replaces the clock that defines "today"
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records computation durations
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithInstruments records computation durations through OpenTelemetry
func WithInstruments(i *observability.OTelInstruments) Option {
	return func(e *Engine) { e.instruments = i }
}

// NewEngine creates an engine over the change log of service and live counts
func NewEngine(service *audit.Service, counts Counts, opts ...Option) *Engine {
	e := &Engine{
		service:   service,
		counts:    counts,
		now:       func() time.Time { return time.Now().UTC() },
		timeout:   defaultQueryTimeout,
		dailyRate: DefaultDailyCompletionRate,
		logger:    observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// begin starts a bounded, traced computation; the returned func ends it
func (e *Engine) begin(ctx context.Context, query string) (context.Context, func(error)) {
	start := time.Now()

	cancel := context.CancelFunc(func() {})
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	ctx, span := observability.Tracer().Start(ctx, "analytics."+query)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.WithError(err).WithField("query", query).Warn("Analytics query failed")
		}
		span.End()
		cancel()
		e.metrics.ObserveAnalytics(query, start)
		e.instruments.RecordQuery(context.WithoutCancel(ctx), query, start)
	}
}

func (e *Engine) today() time.Time {
	return startOfDay(e.now())
}

// TaskSummary holds live task totals
type TaskSummary struct {
	TotalTasks      int64            `json:"total_tasks"`
	CompletedTasks  int64            `json:"completed_tasks"`
	ActiveTasks     int64            `json:"active_tasks"`
	OverdueTasks    int64            `json:"overdue_tasks"`
	UnassignedTasks int64            `json:"unassigned_tasks"`
	CompletionRate  float64          `json:"completion_rate"`
	TasksByStatus   map[string]int64 `json:"tasks_by_status"`
	TasksByPriority map[string]int64 `json:"tasks_by_priority"`
}

// TaskSummary returns totals, completion rate and status/priority breakdowns.
// Breakdown keys are display names.
func (e *Engine) TaskSummary(ctx context.Context) (_ *TaskSummary, err error) {
	ctx, end := e.begin(ctx, "task_summary")
	defer func() { end(err) }()

	counts, err := e.counts.Tasks(ctx, e.today())
	if err != nil {
		return nil, err
	}

	summary := &TaskSummary{
		TotalTasks:      counts.Total,
		CompletedTasks:  counts.Completed,
		ActiveTasks:     counts.Active,
		OverdueTasks:    counts.Overdue,
		UnassignedTasks: counts.Unassigned,
		CompletionRate:  percent(counts.Completed, counts.Total),
		TasksByStatus:   make(map[string]int64, len(counts.ByStatus)),
		TasksByPriority: make(map[string]int64, len(counts.ByPriority)),
	}
	for s, n := range counts.ByStatus {
		summary.TasksByStatus[s.DisplayName()] = n
	}
	for p, n := range counts.ByPriority {
		summary.TasksByPriority[p.DisplayName()] = n
	}
	return summary, nil
}

// Performer is one of the users with the most completed tasks
type Performer struct {
	Rank           int    `json:"rank"`
	UserID         int64  `json:"user_id"`
	Username       string `json:"username"`
	CompletedTasks int64  `json:"completed_tasks"`
}

// UserSummary holds live user totals
type UserSummary struct {
	TotalUsers          int64            `json:"total_users"`
	ActiveUsers         int64            `json:"active_users"`
	InactiveUsers       int64            `json:"inactive_users"`
	UsersByTaskCount    map[string]int64 `json:"users_by_task_count"`
	AverageTasksPerUser float64          `json:"average_tasks_per_user"`
	TopPerformers       []Performer      `json:"top_performers"`
}

// UserSummary returns user activity and the top five performers by completed tasks
func (e *Engine) UserSummary(ctx context.Context) (_ *UserSummary, err error) {
	ctx, end := e.begin(ctx, "user_summary")
	defer func() { end(err) }()

	counts, err := e.counts.Users(ctx)
	if err != nil {
		return nil, err
	}

	summary := &UserSummary{
		TotalUsers:       counts.Total,
		ActiveUsers:      counts.WithTasks,
		InactiveUsers:    max(counts.Total-counts.WithTasks, 0),
		UsersByTaskCount: make(map[string]int64, len(counts.TasksPerUser)),
		TopPerformers:    []Performer{},
	}

	var assigned int64
	for _, uc := range counts.TasksPerUser {
		summary.UsersByTaskCount[uc.Username] = uc.Tasks
		assigned += uc.Tasks
	}
	summary.AverageTasksPerUser = ratio(assigned, counts.Total)

	for i, uc := range counts.CompletedPerUser {
		if i == topPerformerCount {
			break
		}
		summary.TopPerformers = append(summary.TopPerformers, Performer{
			Rank:           i + 1,
			UserID:         uc.UserID,
			Username:       uc.Username,
			CompletedTasks: uc.Tasks,
		})
	}
	return summary, nil
}

// Distribution cross-tabulates tasks
type Distribution struct {
	StatusPriority       map[string]int64   `json:"status_priority"`
	AssignmentRate       float64            `json:"assignment_rate"`
	OverdueRate          float64            `json:"overdue_rate"`
	PriorityDistribution map[string]float64 `json:"priority_distribution"`
}

// Distribution returns the status×priority table and assignment, overdue and
// priority percentages
func (e *Engine) Distribution(ctx context.Context) (_ *Distribution, err error) {
	ctx, end := e.begin(ctx, "distribution")
	defer func() { end(err) }()

	table, err := e.counts.StatusPriority(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := e.counts.Tasks(ctx, e.today())
	if err != nil {
		return nil, err
	}

	dist := &Distribution{
		StatusPriority:       table,
		AssignmentRate:       percent(counts.Total-counts.Unassigned, counts.Total),
		OverdueRate:          percent(counts.Overdue, counts.Total),
		PriorityDistribution: make(map[string]float64, len(counts.ByPriority)),
	}
	if counts.Total > 0 {
		for p, n := range counts.ByPriority {
			dist.PriorityDistribution[p.DisplayName()] = percent(n, counts.Total)
		}
	}
	return dist, nil
}

// CompletionTrend counts transitions into the terminal status
type CompletionTrend struct {
	CompletionsInPeriod int64   `json:"completions_in_period"`
	AveragePerDay       float64 `json:"average_per_day"`
}

// Progress describes change activity within a date range
type Progress struct {
	FromDate           string           `json:"from_date"`
	ToDate             string           `json:"to_date"`
	ModifiedTasksCount int              `json:"modified_tasks_count"`
	ChangesByType      map[string]int64 `json:"changes_by_type"`
	CompletionTrend    CompletionTrend  `json:"completion_trend"`
}

// ProgressTracking summarizes entries between the calendar days from and to, inclusive
func (e *Engine) ProgressTracking(ctx context.Context, from, to time.Time) (_ *Progress, err error) {
	if startOfDay(from).After(startOfDay(to)) {
		return nil, audit.NewValidationError("fromDate", "must not be after toDate")
	}

	ctx, end := e.begin(ctx, "progress_tracking")
	defer func() { end(err) }()

	start, stop := dayRange(from, to)
	entries, err := e.service.Between(ctx, start, stop)
	if err != nil {
		return nil, err
	}

	progress := &Progress{
		FromDate:      task.FormatDate(from),
		ToDate:        task.FormatDate(to),
		ChangesByType: make(map[string]int64),
	}

	tasks := make(map[int64]struct{})
	var completions int64
	for _, entry := range entries {
		tasks[entry.TaskID] = struct{}{}
		progress.ChangesByType[entry.Operation.Label()]++
		if isCompletion(entry) {
			completions++
		}
	}

	progress.ModifiedTasksCount = len(tasks)
	progress.CompletionTrend = CompletionTrend{
		CompletionsInPeriod: completions,
		AveragePerDay:       float64(completions) / float64(daySpan(from, to)),
	}
	return progress, nil
}

// isCompletion reports whether entry moved a task into the terminal status
func isCompletion(entry *audit.Entry) bool {
	return entry.Operation == audit.OperationStatusChange &&
		entry.NewValue != nil && *entry.NewValue == task.StatusDone.DisplayName()
}

// Activity is one entry of the system-wide activity feed
type Activity struct {
	ID            int64     `json:"id"`
	TaskID        int64     `json:"task_id"`
	TaskTitle     string    `json:"task_title"`
	OperationType string    `json:"operation_type"`
	Description   string    `json:"description"`
	ChangedAt     time.Time `json:"changed_at"`
	ChangedBy     string    `json:"changed_by,omitempty"`
	FieldName     string    `json:"field_name,omitempty"`
	OldValue      *string   `json:"old_value,omitempty"`
	NewValue      *string   `json:"new_value,omitempty"`
}

// RecentActivity returns the limit most recent entries with task titles resolved
func (e *Engine) RecentActivity(ctx context.Context, limit int) (_ []Activity, err error) {
	ctx, end := e.begin(ctx, "recent_activity")
	defer func() { end(err) }()

	entries, err := e.service.MostRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(entries))
	seen := make(map[int64]bool, len(entries))
	for _, entry := range entries {
		if !seen[entry.TaskID] {
			seen[entry.TaskID] = true
			ids = append(ids, entry.TaskID)
		}
	}
	titles, err := e.counts.TaskTitles(ctx, ids)
	if err != nil {
		return nil, err
	}

	feed := make([]Activity, 0, len(entries))
	for _, entry := range entries {
		item := Activity{
			ID:            entry.ID,
			TaskID:        entry.TaskID,
			TaskTitle:     titleOf(entry, titles),
			OperationType: entry.Operation.Label(),
			Description:   entry.Describe(),
			ChangedAt:     entry.OccurredAt,
		}
		if entry.ActorID != nil {
			item.ChangedBy = entry.ActorName
		}
		if entry.HasValueChange() {
			item.FieldName = entry.FieldName
			item.OldValue = entry.OldValue
			item.NewValue = entry.NewValue
		}
		feed = append(feed, item)
	}
	return feed, nil
}

// titleOf resolves the task title, falling back to the title a deletion recorded
func titleOf(entry *audit.Entry, titles map[int64]string) string {
	if title, ok := titles[entry.TaskID]; ok {
		return title
	}
	if entry.Operation == audit.OperationDelete && entry.OldValue != nil {
		return *entry.OldValue
	}
	return ""
}

// Forecast is a naive linear projection of when active tasks are done
type Forecast struct {
	ActiveTasks             int64   `json:"active_tasks"`
	EstimatedDays           int64   `json:"estimated_days"`
	EstimatedCompletionDate string  `json:"estimated_completion_date"`
	ConfidenceLevel         string  `json:"confidence_level"`
	AssumedDailyRate        float64 `json:"assumed_daily_rate"`
}

// CompletionForecast projects active tasks / daily completion rate days ahead
func (e *Engine) CompletionForecast(ctx context.Context) (_ *Forecast, err error) {
	ctx, end := e.begin(ctx, "completion_forecast")
	defer func() { end(err) }()

	today := e.today()
	counts, err := e.counts.Tasks(ctx, today)
	if err != nil {
		return nil, err
	}

	var days int64
	if counts.Active > 0 {
		days = int64(math.Round(float64(counts.Active) / e.dailyRate))
	}
	return &Forecast{
		ActiveTasks:             counts.Active,
		EstimatedDays:           days,
		EstimatedCompletionDate: task.FormatDate(today.AddDate(0, 0, int(days))),
		ConfidenceLevel:         ForecastConfidence,
		AssumedDailyRate:        e.dailyRate,
	}, nil
}

// PerformanceMetrics are team-wide rates
type PerformanceMetrics struct {
	CompletionRate        float64 `json:"completion_rate"`
	AssignmentRate        float64 `json:"assignment_rate"`
	OverdueRate           float64 `json:"overdue_rate"`
	AverageCompletionTime float64 `json:"average_completion_time"`
	TeamProductivity      float64 `json:"team_productivity"`
}

// PerformanceMetrics returns completion, assignment and overdue rates and
// completed tasks per user
func (e *Engine) PerformanceMetrics(ctx context.Context) (_ *PerformanceMetrics, err error) {
	ctx, end := e.begin(ctx, "performance_metrics")
	defer func() { end(err) }()

	tasks, err := e.counts.Tasks(ctx, e.today())
	if err != nil {
		return nil, err
	}
	users, err := e.counts.Users(ctx)
	if err != nil {
		return nil, err
	}

	return &PerformanceMetrics{
		CompletionRate:        percent(tasks.Completed, tasks.Total),
		AssignmentRate:        percent(tasks.Total-tasks.Unassigned, tasks.Total),
		OverdueRate:           percent(tasks.Overdue, tasks.Total),
		AverageCompletionTime: assumedAverageCompletionDays,
		TeamProductivity:      ratio(tasks.Completed, users.Total),
	}, nil
}

// TrendPoint is the activity of one calendar day
type TrendPoint struct {
	Date        string `json:"date"`
	Changes     int64  `json:"changes"`
	Created     int64  `json:"created"`
	Completions int64  `json:"completions"`
}

// TrendData is a per-day series over a date range
type TrendData struct {
	FromDate     string       `json:"from_date"`
	ToDate       string       `json:"to_date"`
	Period       string       `json:"period"`
	TotalChanges int64        `json:"total_changes"`
	Points       []TrendPoint `json:"points"`
}

// TrendData buckets entries between the calendar days from and to by day.
// Days without entries are present with zero counts.
func (e *Engine) TrendData(ctx context.Context, from, to time.Time) (_ *TrendData, err error) {
	if startOfDay(from).After(startOfDay(to)) {
		return nil, audit.NewValidationError("fromDate", "must not be after toDate")
	}
	days := daySpan(from, to)
	if days > maxTrendDays {
		return nil, audit.NewValidationError("toDate", fmt.Sprintf("range must not exceed %d days", maxTrendDays))
	}

	ctx, end := e.begin(ctx, "trend_data")
	defer func() { end(err) }()

	start, stop := dayRange(from, to)
	entries, err := e.service.Between(ctx, start, stop)
	if err != nil {
		return nil, err
	}

	trend := &TrendData{
		FromDate: task.FormatDate(from),
		ToDate:   task.FormatDate(to),
		Period:   "custom",
		Points:   make([]TrendPoint, days),
	}
	index := make(map[string]int, days)
	for i := range trend.Points {
		date := task.FormatDate(start.AddDate(0, 0, i))
		trend.Points[i].Date = date
		index[date] = i
	}

	for _, entry := range entries {
		i, ok := index[task.FormatDate(entry.OccurredAt.In(start.Location()))]
		if !ok {
			continue
		}
		p := &trend.Points[i]
		p.Changes++
		trend.TotalChanges++
		switch {
		case entry.Operation == audit.OperationCreate:
			p.Created++
		case isCompletion(entry):
			p.Completions++
		}
	}
	return trend, nil
}

// Dashboard combines every summary
type Dashboard struct {
	TaskSummary        *TaskSummary        `json:"task_summary"`
	UserSummary        *UserSummary        `json:"user_summary"`
	RecentActivity     []Activity          `json:"recent_activity"`
	ProgressTracking   *Progress           `json:"progress_tracking"`
	TaskDistribution   *Distribution       `json:"task_distribution"`
	PerformanceMetrics *PerformanceMetrics `json:"performance_metrics"`
	GeneratedAt        time.Time           `json:"generated_at"`
}

// Dashboard computes the summaries concurrently; the first failure cancels the rest
func (e *Engine) Dashboard(ctx context.Context) (*Dashboard, error) {
	today := e.today()
	d := &Dashboard{GeneratedAt: e.now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.TaskSummary, err = e.TaskSummary(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.UserSummary, err = e.UserSummary(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.RecentActivity, err = e.RecentActivity(gctx, dashboardActivity)
		return err
	})
	g.Go(func() (err error) {
		d.ProgressTracking, err = e.ProgressTracking(gctx, today.AddDate(0, 0, -dashboardWindowDays), today)
		return err
	})
	g.Go(func() (err error) {
		d.TaskDistribution, err = e.Distribution(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.PerformanceMetrics, err = e.PerformanceMetrics(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}

// Widgets is the compact dashboard
type Widgets struct {
	TaskSummary        *TaskSummary        `json:"task_summary"`
	UserSummary        *UserSummary        `json:"user_summary"`
	PerformanceMetrics *PerformanceMetrics `json:"performance_metrics"`
	RecentActivity     []Activity          `json:"recent_activity"`
}

// Widgets computes the compact dashboard concurrently
func (e *Engine) Widgets(ctx context.Context) (*Widgets, error) {
	w := &Widgets{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		w.TaskSummary, err = e.TaskSummary(gctx)
		return err
	})
	g.Go(func() (err error) {
		w.UserSummary, err = e.UserSummary(gctx)
		return err
	})
	g.Go(func() (err error) {
		w.PerformanceMetrics, err = e.PerformanceMetrics(gctx)
		return err
	})
	g.Go(func() (err error) {
		w.RecentActivity, err = e.RecentActivity(gctx, widgetActivity)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return w, nil
}

// QuickStats are the headline numbers
type QuickStats struct {
	TotalTasks     int64   `json:"total_tasks"`
	CompletedTasks int64   `json:"completed_tasks"`
	ActiveTasks    int64   `json:"active_tasks"`
	TotalUsers     int64   `json:"total_users"`
	ActiveUsers    int64   `json:"active_users"`
	CompletionRate float64 `json:"completion_rate"`
}

// QuickStats returns the headline numbers
func (e *Engine) QuickStats(ctx context.Context) (*QuickStats, error) {
	tasks, err := e.TaskSummary(ctx)
	if err != nil {
		return nil, err
	}
	users, err := e.UserSummary(ctx)
	if err != nil {
		return nil, err
	}
	return &QuickStats{
		TotalTasks:     tasks.TotalTasks,
		CompletedTasks: tasks.CompletedTasks,
		ActiveTasks:    tasks.ActiveTasks,
		TotalUsers:     users.TotalUsers,
		ActiveUsers:    users.ActiveUsers,
		CompletionRate: tasks.CompletionRate,
	}, nil
}

// ChangeLogDashboard returns the change log's own dashboard: recent entries
// and per-operation counts
func (e *Engine) ChangeLogDashboard(ctx context.Context, recent int) (_ *audit.Dashboard, err error) {
	ctx, end := e.begin(ctx, "changelog_dashboard")
	defer func() { end(err) }()

	return e.service.Dashboard(ctx, recent)
}
