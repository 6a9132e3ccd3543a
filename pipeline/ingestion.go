package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

const utf8BOM = "\ufeff"

// ReadCSV 读取带表头的CSV，encoding 为空或 utf-8 时不做转码
func ReadCSV(r io.Reader, encoding string) (*Frame, error) {
	decoded, err := decodeReader(r, encoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(decoded)
	reader.LazyQuotes = true
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv has no header")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return NewFrame(header, records)
}

// LoadCSV 从文件读取CSV
func LoadCSV(path, encoding string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	frame, err := ReadCSV(file, encoding)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return frame, nil
}

// decodeReader 按WHATWG编码名称包装解码器，例如 gbk、windows-1252
func decodeReader(r io.Reader, name string) (io.Reader, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "utf-8" || name == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", name, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
