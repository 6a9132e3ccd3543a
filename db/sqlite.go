// Package db 持久化训练记录
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"scorecard/ml"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// Store SQLite 训练记录存储
type Store struct {
	db *sql.DB
}

// TrainingRun 一次训练的结果
type TrainingRun struct {
	ID           int64       `json:"id"`
	ModelName    string      `json:"model_name"`
	AUC          float64     `json:"auc"`
	TrainSamples int         `json:"train_samples"`
	TestSamples  int         `json:"test_samples"`
	FeatureCount int         `json:"feature_count"`
	BundlePath   string      `json:"bundle_path"`
	Fingerprint  string      `json:"fingerprint"`
	TrainedAt    time.Time   `json:"trained_at"`
	Features     []FeatureIV `json:"features,omitempty"`
}

// FeatureIV 单个特征的信息值
type FeatureIV struct {
	Feature  string  `json:"feature"`
	IV       float64 `json:"iv"`
	Selected bool    `json:"selected"`
}

// Open 打开数据库并执行迁移
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// 单连接，避免 :memory: 库在连接间不可见
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// RunFromBundle 由训练产出的模型包生成训练记录
func RunFromBundle(b *ml.Bundle, bundlePath string) (TrainingRun, error) {
	fingerprint, err := b.Fingerprint()
	if err != nil {
		return TrainingRun{}, err
	}
	run := TrainingRun{
		ModelName:    b.Name,
		FeatureCount: len(b.Features),
		BundlePath:   bundlePath,
		Fingerprint:  fingerprint,
		TrainedAt:    time.Now().UTC(),
	}
	if b.TrainedAt != nil {
		run.TrainedAt = b.TrainedAt.UTC()
	}
	scores := b.IVScores()
	if b.Metrics != nil && len(b.Metrics.IVScores) > 0 {
		scores = b.Metrics.IVScores
	}
	for name, iv := range scores {
		_, selected := b.Mappings[name]
		run.Features = append(run.Features, FeatureIV{Feature: name, IV: iv, Selected: selected})
	}
	sortFeatures(run.Features)
	if b.Metrics != nil {
		run.AUC = b.Metrics.AUC
		run.TrainSamples = b.Metrics.TrainSamples
		run.TestSamples = b.Metrics.TestSamples
	}
	return run, nil
}

// SaveTrainingRun 保存训练记录及特征IV，返回记录ID
func (s *Store) SaveTrainingRun(ctx context.Context, run TrainingRun) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if run.TrainedAt.IsZero() {
		run.TrainedAt = time.Now()
	}
	res, err := tx.ExecContext(ctx, `
        INSERT INTO training_log (model_name, auc, train_samples, test_samples, feature_count, bundle_path, fingerprint, trained_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ModelName, run.AUC, run.TrainSamples, run.TestSamples, run.FeatureCount,
		run.BundlePath, run.Fingerprint, run.TrainedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert training run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO feature_iv (run_id, feature, iv, selected) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, f := range run.Features {
		if _, err := stmt.ExecContext(ctx, id, f.Feature, f.IV, f.Selected); err != nil {
			return 0, fmt.Errorf("insert iv for %s: %w", f.Feature, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// LoadTrainingLog 按训练时间倒序返回最近的记录，limit <= 0 时返回全部
func (s *Store) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, model_name, auc, train_samples, test_samples, feature_count, bundle_path, fingerprint, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0)
	for rows.Next() {
		var run TrainingRun
		if err := rows.Scan(&run.ID, &run.ModelName, &run.AUC, &run.TrainSamples, &run.TestSamples,
			&run.FeatureCount, &run.BundlePath, &run.Fingerprint, &run.TrainedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// TrainingRun 按ID读取记录及其特征IV
func (s *Store) TrainingRun(ctx context.Context, id int64) (*TrainingRun, error) {
	var run TrainingRun
	err := s.db.QueryRowContext(ctx, `
        SELECT id, model_name, auc, train_samples, test_samples, feature_count, bundle_path, fingerprint, trained_at
        FROM training_log WHERE id = ?`, id).
		Scan(&run.ID, &run.ModelName, &run.AUC, &run.TrainSamples, &run.TestSamples,
			&run.FeatureCount, &run.BundlePath, &run.Fingerprint, &run.TrainedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("training run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if run.Features, err = s.FeatureIVs(ctx, id); err != nil {
		return nil, err
	}
	return &run, nil
}

// FeatureIVs 返回某次训练的特征IV，按IV降序
func (s *Store) FeatureIVs(ctx context.Context, runID int64) ([]FeatureIV, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT feature, iv, selected FROM feature_iv WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	features := make([]FeatureIV, 0)
	for rows.Next() {
		var f FeatureIV
		if err := rows.Scan(&f.Feature, &f.IV, &f.Selected); err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortFeatures(features)
	return features, nil
}

func sortFeatures(features []FeatureIV) {
	sort.Slice(features, func(i, j int) bool {
		if features[i].IV != features[j].IV {
			return features[i].IV > features[j].IV
		}
		return features[i].Feature < features[j].Feature
	})
}
