package builtins

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/dagflow/plugin"
)

// FileSymbol is the factory symbol the file plugin registers under.
const FileSymbol = "builtin.file"

// FileFactory constructs the local file data source.
func FileFactory() plugin.Plugin { return &FilePlugin{} }

// FilePlugin reads structured data from local files. The format is
// taken from the config or inferred from the extension: json, yaml,
// csv, or text.
type FilePlugin struct {
	mu          sync.Mutex
	initialized bool

	// baseDir, when set in global config, confines reads to a root.
	baseDir string
}

func (p *FilePlugin) Info() plugin.Info {
	return plugin.Info{
		PluginID:    "file",
		Name:        "File Data Source",
		Version:     "1.0.0",
		Author:      "dagflow",
		Description: "Reads JSON, YAML, CSV or plain text from local files.",
	}
}

func (p *FilePlugin) SupportedParameters() []plugin.ParameterSpec {
	return []plugin.ParameterSpec{
		{Name: "path", Type: plugin.TypeFilePath, Required: true, Description: "File to read."},
		{Name: "format", Type: plugin.TypeEnum, Options: []string{"json", "yaml", "csv", "text"}, Description: "Override format inference."},
		{Name: "csvHeader", Type: plugin.TypeBool, DefaultValue: true, Description: "Treat the first CSV row as a header."},
	}
}

func (p *FilePlugin) Initialize(globalConfig map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return errors.New("file plugin initialized twice")
	}
	if dir, ok := globalConfig["plugin.file.baseDir"].(string); ok {
		p.baseDir = dir
	}
	p.initialized = true
	return nil
}

func (p *FilePlugin) ValidateConfig(config map[string]any) *plugin.ValidationResult {
	result := plugin.ValidateParams(p.SupportedParameters(), config)
	if path, ok := config["path"].(string); ok && p.baseDir != "" {
		abs, err := filepath.Abs(filepath.Join(p.baseDir, path))
		if err != nil || !strings.HasPrefix(abs, filepath.Clean(p.baseDir)+string(filepath.Separator)) {
			result.AddError("path %q escapes the configured base directory", path)
		}
	}
	return result
}

func (p *FilePlugin) CreateConnection(ctx context.Context, config map[string]any) (plugin.Connection, error) {
	path, _ := config["path"].(string)
	if path == "" {
		return nil, errors.New("file plugin requires a path")
	}
	if p.baseDir != "" {
		path = filepath.Join(p.baseDir, path)
	}

	format, _ := config["format"].(string)
	if format == "" {
		format = inferFormat(path)
	}

	header := true
	if v, ok := config["csvHeader"].(bool); ok {
		header = v
	}

	return &fileConnection{path: path, format: format, csvHeader: header, open: true}, nil
}

func (p *FilePlugin) TestConnection(ctx context.Context, config map[string]any) *plugin.TestResult {
	start := time.Now()
	path, _ := config["path"].(string)
	if path == "" {
		return &plugin.TestResult{Success: false, Message: "path is required", LatencyMs: time.Since(start).Milliseconds()}
	}
	if p.baseDir != "" {
		path = filepath.Join(p.baseDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return &plugin.TestResult{Success: false, Message: err.Error(), LatencyMs: time.Since(start).Milliseconds()}
	}
	return &plugin.TestResult{Success: true, Message: "file is readable", LatencyMs: time.Since(start).Milliseconds()}
}

func (p *FilePlugin) Destroy() error { return nil }

func inferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yml", ".yaml":
		return "yaml"
	case ".csv":
		return "csv"
	}
	return "text"
}

type fileConnection struct {
	path      string
	format    string
	csvHeader bool

	mu   sync.Mutex
	open bool
}

func (c *fileConnection) ReadData(ctx context.Context) (any, error) {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if !open {
		return nil, errors.New("file connection is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.path, err)
	}

	switch c.format {
	case "json":
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parse %s as json: %w", c.path, err)
		}
		return out, nil

	case "yaml":
		var out any
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parse %s as yaml: %w", c.path, err)
		}
		return out, nil

	case "csv":
		return c.readCSV(data)

	default:
		return string(data), nil
	}
}

// readCSV returns a list of maps when a header row is configured,
// otherwise a list of string lists.
func (c *fileConnection) readCSV(data []byte) (any, error) {
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s as csv: %w", c.path, err)
	}
	if len(rows) == 0 {
		return []any{}, nil
	}

	if !c.csvHeader {
		out := make([]any, 0, len(rows))
		for _, row := range rows {
			cells := make([]any, len(row))
			for i, cell := range row {
				cells[i] = cell
			}
			out = append(out, cells)
		}
		return out, nil
	}

	header := rows[0]
	out := make([]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(row) {
				record[name] = row[i]
			}
		}
		out = append(out, record)
	}
	return out, nil
}

func (c *fileConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fileConnection) ConnectionInfo() map[string]any {
	return map[string]any{"type": "file", "path": c.path, "format": c.format}
}

func (c *fileConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}
