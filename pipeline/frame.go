// Package pipeline 提供训练数据的读取与清洗
package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Frame 按列存储的原始数据表，单元格保留原始字符串
type Frame struct {
	names []string
	cols  map[string][]string
	rows  int
}

// NewFrame 由表头和记录构建数据表
func NewFrame(header []string, records [][]string) (*Frame, error) {
	f := &Frame{cols: make(map[string][]string, len(header)), rows: len(records)}
	for _, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty column name in header")
		}
		if _, dup := f.cols[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		f.names = append(f.names, name)
		f.cols[name] = make([]string, len(records))
	}
	for i, rec := range records {
		if len(rec) != len(f.names) {
			return nil, fmt.Errorf("record %d has %d fields, want %d", i+1, len(rec), len(f.names))
		}
		for j, name := range f.names {
			f.cols[name][i] = rec[j]
		}
	}
	return f, nil
}

// Len 返回行数
func (f *Frame) Len() int {
	return f.rows
}

// Columns 返回列名，保持原始顺序
func (f *Frame) Columns() []string {
	return append([]string(nil), f.names...)
}

// Has 判断列是否存在
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Column 返回列的原始值
func (f *Frame) Column(name string) ([]string, bool) {
	col, ok := f.cols[name]
	return col, ok
}

// Float 把列解析为浮点数，缺失或无法解析的值为 NaN
func (f *Frame) Float(name string) ([]float64, bool) {
	col, ok := f.cols[name]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(col))
	for i, s := range col {
		out[i] = parseFloat(s)
	}
	return out, true
}

// SetColumn 写入或替换一列
func (f *Frame) SetColumn(name string, values []string) error {
	if len(values) != f.rows {
		return fmt.Errorf("column %q has %d rows, want %d", name, len(values), f.rows)
	}
	if !f.Has(name) {
		f.names = append(f.names, name)
	}
	f.cols[name] = values
	return nil
}

// SetFloat 写入数值列，NaN 记为空值
func (f *Frame) SetFloat(name string, values []float64) error {
	col := make([]string, len(values))
	for i, v := range values {
		if !math.IsNaN(v) {
			col[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	return f.SetColumn(name, col)
}

// Drop 删除存在的列，返回实际删除的列名
func (f *Frame) Drop(names ...string) []string {
	var dropped []string
	for _, name := range names {
		if !f.Has(name) {
			continue
		}
		delete(f.cols, name)
		for i, n := range f.names {
			if n == name {
				f.names = append(f.names[:i], f.names[i+1:]...)
				break
			}
		}
		dropped = append(dropped, name)
	}
	return dropped
}

// FilterRows 只保留 keep 为 true 的行，返回删除的行数
func (f *Frame) FilterRows(keep []bool) (int, error) {
	if len(keep) != f.rows {
		return 0, fmt.Errorf("row mask has %d entries, want %d", len(keep), f.rows)
	}
	kept := 0
	for _, k := range keep {
		if k {
			kept++
		}
	}
	for name, col := range f.cols {
		out := make([]string, 0, kept)
		for i, v := range col {
			if keep[i] {
				out = append(out, v)
			}
		}
		f.cols[name] = out
	}
	removed := f.rows - kept
	f.rows = kept
	return removed, nil
}

// IsMissing 判断单元格是否为缺失值
func IsMissing(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "na", "nan", "null", "none", "n/a":
		return true
	}
	return false
}

// parseFloat 解析数值，允许百分号后缀
func parseFloat(s string) float64 {
	if IsMissing(s) {
		return math.NaN()
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}
