package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"scorecard/ml"
)

// TargetColumn 二分类目标列名
const TargetColumn = "target"

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(*Frame) ([]QualityIssue, error)
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low, medium, high
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Column    string    `json:"column,omitempty"`
}

func newIssue(kind, severity, column, format string, args ...any) QualityIssue {
	return QualityIssue{
		Type:      kind,
		Severity:  severity,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
		Column:    column,
	}
}

// CleaningStats 清洗统计
type CleaningStats struct {
	InputRows  int              `json:"input_rows"`
	OutputRows int              `json:"output_rows"`
	Issues     map[string]int64 `json:"issues"`
	LastClean  time.Time        `json:"last_clean"`
}

// Cleaner 数据清洗器，按顺序执行规则
type Cleaner struct {
	rules  []CleaningRule
	logger *zap.Logger

	stats     CleaningStats
	statsLock sync.RWMutex
}

// NewCleaner 创建带默认规则的清洗器
func NewCleaner(logger *zap.Logger) *Cleaner {
	c := NewEmptyCleaner(logger)

	// 添加默认规则，顺序与训练脚本一致
	c.AddRule(TargetRule{})
	c.AddRule(DefaultDropColumnsRule())
	c.AddRule(CreditHistoryRule{})
	c.AddRule(DefaultImputeRule())
	c.AddRule(LoanBurdenRule{})
	return c
}

// NewEmptyCleaner 创建不带规则的清洗器
func NewEmptyCleaner(logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		logger: logger,
		stats:  CleaningStats{Issues: make(map[string]int64)},
	}
}

// AddRule 添加清洗规则
func (c *Cleaner) AddRule(rule CleaningRule) {
	c.rules = append(c.rules, rule)
	c.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Rules 返回规则名称
func (c *Cleaner) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name()
	}
	return names
}

// Clean 原地清洗数据表，规则出错时立即返回
func (c *Cleaner) Clean(f *Frame) ([]QualityIssue, error) {
	inputRows := f.Len()
	var issues []QualityIssue
	for _, rule := range c.rules {
		found, err := rule.Apply(f)
		if err != nil {
			return issues, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		for _, issue := range found {
			c.logger.Info("quality issue",
				zap.String("rule", rule.Name()),
				zap.String("type", issue.Type),
				zap.String("severity", issue.Severity),
				zap.String("column", issue.Column),
				zap.String("message", issue.Message),
			)
		}
		issues = append(issues, found...)
	}

	c.statsLock.Lock()
	c.stats.InputRows += inputRows
	c.stats.OutputRows += f.Len()
	for _, issue := range issues {
		c.stats.Issues[issue.Type]++
	}
	c.stats.LastClean = time.Now()
	c.statsLock.Unlock()

	c.logger.Info("cleaning finished",
		zap.Int("input_rows", inputRows),
		zap.Int("output_rows", f.Len()),
		zap.Int("columns", len(f.Columns())),
		zap.Int("issues", len(issues)),
	)
	return issues, nil
}

// GetStats 获取统计信息
func (c *Cleaner) GetStats() CleaningStats {
	c.statsLock.RLock()
	defer c.statsLock.RUnlock()

	stats := c.stats
	stats.Issues = make(map[string]int64, len(c.stats.Issues))
	for k, v := range c.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// BadLoanStatuses 视为违约的贷款状态
var BadLoanStatuses = []string{
	"Charged Off",
	"Default",
	"Late (31-120 days)",
	"Late (16-30 days)",
	"Does not meet the credit policy. Status:Charged Off",
}

// GoodLoanStatuses 视为正常的贷款状态
var GoodLoanStatuses = []string{
	"Fully Paid",
	"Current",
	"Does not meet the credit policy. Status:Fully Paid",
}

// LoanStatusTarget 把贷款状态映射为 1（违约）、0（正常），其他状态返回 false
func LoanStatusTarget(status string) (int, bool) {
	status = strings.TrimSpace(status)
	for _, s := range BadLoanStatuses {
		if status == s {
			return 1, true
		}
	}
	for _, s := range GoodLoanStatuses {
		if status == s {
			return 0, true
		}
	}
	return 0, false
}

// TargetRule 生成目标列并删除目标不明确的行；已有 target 列时直接使用
type TargetRule struct{}

func (TargetRule) Name() string { return "target" }

func (TargetRule) Apply(f *Frame) ([]QualityIssue, error) {
	var (
		target []string
		keep   = make([]bool, f.Len())
	)
	if col, ok := f.Column(TargetColumn); ok {
		target = make([]string, len(col))
		for i, v := range col {
			switch strings.TrimSpace(v) {
			case "0", "0.0":
				target[i], keep[i] = "0", true
			case "1", "1.0":
				target[i], keep[i] = "1", true
			}
		}
	} else if col, ok := f.Column("loan_status"); ok {
		target = make([]string, len(col))
		for i, v := range col {
			if t, ok := LoanStatusTarget(v); ok {
				target[i], keep[i] = strconv.Itoa(t), true
			}
		}
	} else {
		return nil, errors.New("frame has neither target nor loan_status column")
	}

	if err := f.SetColumn(TargetColumn, target); err != nil {
		return nil, err
	}
	removed, err := f.FilterRows(keep)
	if err != nil {
		return nil, err
	}
	if f.Len() == 0 {
		return nil, errors.New("no rows with a usable target")
	}

	var issues []QualityIssue
	if removed > 0 {
		issues = append(issues, newIssue("ambiguous_target", "medium", TargetColumn,
			"dropped %d rows without a clear target", removed))
	}
	return issues, nil
}

// LeakageColumns 训练时不可用或会泄露结果的列
var LeakageColumns = []string{
	"id", "member_id", "loan_status", "url", "desc", "title", "zip_code",
	"policy_code", "next_pymnt_d", "last_pymnt_d", "last_credit_pull_d",
	"annual_inc_joint", "dti_joint", "verification_status_joint", "emp_title",
	"out_prncp", "out_prncp_inv", "total_pymnt", "total_pymnt_inv",
	"total_rec_prncp", "total_rec_int", "total_rec_late_fee", "recoveries",
	"collection_recovery_fee", "mths_since_last_major_derog",
}

// SparseColumns 缺失严重的列
var SparseColumns = []string{
	"il_util", "mths_since_rcnt_il", "total_bal_il", "open_il_24m",
	"open_il_12m", "open_acc_6m", "open_rv_12m", "open_rv_24m", "open_il_6m",
	"all_util", "inq_fi", "total_cu_tl", "inq_last_12m", "max_bal_bc",
}

// DropColumnsRule 删除指定列，不存在的列忽略
type DropColumnsRule struct {
	Columns []string
}

// DefaultDropColumnsRule 删除泄露列和缺失严重的列
func DefaultDropColumnsRule() DropColumnsRule {
	cols := append([]string(nil), LeakageColumns...)
	return DropColumnsRule{Columns: append(cols, SparseColumns...)}
}

func (DropColumnsRule) Name() string { return "drop_columns" }

func (r DropColumnsRule) Apply(f *Frame) ([]QualityIssue, error) {
	dropped := f.Drop(r.Columns...)
	if len(dropped) == 0 {
		return nil, nil
	}
	return []QualityIssue{newIssue("dropped_columns", "low", "",
		"dropped %d columns: %s", len(dropped), strings.Join(dropped, ", "))}, nil
}

// CreditHistoryLayout 日期列格式，例如 Dec-2011
const CreditHistoryLayout = "Jan-2006"

// CreditHistoryRule 由 issue_d 和 earliest_cr_line 计算信用历史年数
type CreditHistoryRule struct{}

func (CreditHistoryRule) Name() string { return "credit_history" }

func (CreditHistoryRule) Apply(f *Frame) ([]QualityIssue, error) {
	issued, ok1 := f.Column("issue_d")
	earliest, ok2 := f.Column("earliest_cr_line")
	if !ok1 || !ok2 {
		return nil, nil
	}

	years := make([]float64, f.Len())
	unparsed := 0
	for i := range years {
		from, err1 := time.Parse(CreditHistoryLayout, strings.TrimSpace(earliest[i]))
		to, err2 := time.Parse(CreditHistoryLayout, strings.TrimSpace(issued[i]))
		if err1 != nil || err2 != nil {
			years[i] = math.NaN()
			unparsed++
			continue
		}
		years[i] = to.Sub(from).Hours() / 24 / 365
	}
	if err := f.SetFloat("credit_history_length", years); err != nil {
		return nil, err
	}
	f.Drop("issue_d", "earliest_cr_line")

	var issues []QualityIssue
	if unparsed > 0 {
		issues = append(issues, newIssue("unparsed_date", "low", "credit_history_length",
			"%d rows have unparseable issue_d or earliest_cr_line", unparsed))
	}
	return issues, nil
}

// LoanBurdenRule 计算 loan_amnt/(annual_inc+1)，并删除 loan_amnt 和 dti
type LoanBurdenRule struct{}

func (LoanBurdenRule) Name() string { return "loan_burden" }

func (LoanBurdenRule) Apply(f *Frame) ([]QualityIssue, error) {
	amount, ok1 := f.Float("loan_amnt")
	income, ok2 := f.Float("annual_inc")
	if !ok1 || !ok2 {
		return nil, nil
	}
	burden := make([]float64, len(amount))
	for i := range burden {
		v := amount[i] / (income[i] + 1)
		if math.IsInf(v, 0) {
			v = math.NaN()
		}
		burden[i] = v
	}
	if err := f.SetFloat("loan_burden", burden); err != nil {
		return nil, err
	}
	f.Drop("loan_amnt", "dti")
	return nil, nil
}

// UnknownCategory 众数不可用时的填充值
const UnknownCategory = "Unknown"

// ImputeRule 数值列用中位数填充，类别列用众数填充
type ImputeRule struct {
	Median []string
	Mode   []string
}

// DefaultImputeRule 训练脚本中的填充列
func DefaultImputeRule() ImputeRule {
	return ImputeRule{
		Median: []string{
			"total_rev_hi_lim", "tot_coll_amt", "tot_cur_bal", "revol_util",
			"collections_12_mths_ex_med", "acc_now_delinq", "total_acc",
			"pub_rec", "open_acc", "inq_last_6mths", "delinq_2yrs",
			"credit_history_length", "annual_inc", "mths_since_last_record",
			"mths_since_last_delinq", "loan_amnt", "loan_burden",
		},
		Mode: []string{"emp_length"},
	}
}

func (ImputeRule) Name() string { return "impute" }

func (r ImputeRule) Apply(f *Frame) ([]QualityIssue, error) {
	var issues []QualityIssue
	for _, name := range r.Median {
		values, ok := f.Float(name)
		if !ok {
			continue
		}
		fill := median(values)
		filled := 0
		for i, v := range values {
			if math.IsNaN(v) {
				values[i] = fill
				filled++
			}
		}
		if filled == 0 {
			continue
		}
		if err := f.SetFloat(name, values); err != nil {
			return nil, err
		}
		issues = append(issues, newIssue("imputed", severityFor(filled, len(values)), name,
			"filled %d missing values with median %g", filled, fill))
	}

	for _, name := range r.Mode {
		col, ok := f.Column(name)
		if !ok {
			continue
		}
		fill := mode(col)
		out := make([]string, len(col))
		filled := 0
		for i, v := range col {
			if IsMissing(v) {
				out[i] = fill
				filled++
				continue
			}
			out[i] = v
		}
		if filled == 0 {
			continue
		}
		if err := f.SetColumn(name, out); err != nil {
			return nil, err
		}
		issues = append(issues, newIssue("imputed", severityFor(filled, len(col)), name,
			"filled %d missing values with mode %q", filled, fill))
	}
	return issues, nil
}

// severityFor 按缺失比例划分严重程度
func severityFor(missing, total int) string {
	switch ratio := float64(missing) / float64(total); {
	case ratio > 0.5:
		return "high"
	case ratio > 0.1:
		return "medium"
	default:
		return "low"
	}
}

// median 忽略 NaN 的中位数，全部缺失时为 0
func median(values []float64) float64 {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return 0
	}
	sort.Float64s(present)
	mid := len(present) / 2
	if len(present)%2 == 1 {
		return present[mid]
	}
	return (present[mid-1] + present[mid]) / 2
}

// mode 出现次数最多的非缺失值，并列时取字典序最小者
func mode(values []string) string {
	counts := make(map[string]int)
	for _, v := range values {
		if !IsMissing(v) {
			counts[strings.TrimSpace(v)]++
		}
	}
	best, bestCount := UnknownCategory, 0
	for v, n := range counts {
		if n > bestCount || (n == bestCount && v < best) {
			best, bestCount = v, n
		}
	}
	return best
}

// BuildTrainingSet 按特征列表从清洗后的数据表构建训练集，不存在的列跳过
func BuildTrainingSet(f *Frame, continuous, categorical []string) (*ml.TrainingSet, error) {
	targetCol, ok := f.Column(TargetColumn)
	if !ok {
		return nil, fmt.Errorf("frame has no %s column", TargetColumn)
	}
	set := &ml.TrainingSet{
		Numeric:     make(map[string][]float64),
		Categorical: make(map[string][]string),
		Target:      make([]int, len(targetCol)),
	}
	for i, v := range targetCol {
		t, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || (t != 0 && t != 1) {
			return nil, fmt.Errorf("row %d: target %q is not 0 or 1", i+1, v)
		}
		set.Target[i] = t
	}

	for _, name := range continuous {
		if values, ok := f.Float(name); ok {
			set.Numeric[name] = values
		}
	}
	for _, name := range categorical {
		col, ok := f.Column(name)
		if !ok {
			continue
		}
		values := make([]string, len(col))
		for i, v := range col {
			if IsMissing(v) {
				values[i] = UnknownCategory
				continue
			}
			values[i] = strings.TrimSpace(v)
		}
		set.Categorical[name] = values
	}
	if len(set.Numeric)+len(set.Categorical) == 0 {
		return nil, errors.New("none of the configured features are present")
	}
	return set, nil
}
