package plugin

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// SPIDescriptorPath is the archive entry naming the factory
	// symbols a plugin archive provides. One symbol per line;
	// '#' starts a comment.
	SPIDescriptorPath = "spi/datasource"

	// ManifestPath is the optional archive manifest. When present it
	// is authoritative over the plugin's self-reported identity.
	ManifestPath = "plugin.yml"
)

// Manifest is the optional plugin.yml carried by an archive.
type Manifest struct {
	Info          `yaml:",inline"`
	License       string            `yaml:"license,omitempty"`
	Tags          []string          `yaml:"tags,omitempty"`
	Parameters    []ParameterSpec   `yaml:"parameters,omitempty"`
	Examples      []map[string]any  `yaml:"examples,omitempty"`
	Compatibility map[string]string `yaml:"compatibility,omitempty"`
	Dependencies  []string          `yaml:"dependencies,omitempty"`
}

// ArchiveEntry describes one file inside an archive, as seen by the
// security scan.
type ArchiveEntry struct {
	Name string
	Size int64
}

// Archive is the parsed form of an on-disk plugin archive.
type Archive struct {
	Path     string
	Size     int64
	Entries  []ArchiveEntry
	Symbols  []string
	Manifest *Manifest
}

// HasDescriptor reports whether the archive declared any SPI symbols.
func (a *Archive) HasDescriptor() bool { return len(a.Symbols) > 0 }

// OpenArchive reads a plugin archive from disk: the entry listing, the
// SPI descriptor and the optional manifest. It does not resolve any
// symbol; binding happens at registration through the plugin's symbol
// space.
func OpenArchive(path string) (*Archive, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat plugin archive: %w", err)
	}

	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin archive %s: %w", path, err)
	}
	defer reader.Close()

	archive := &Archive{Path: path, Size: stat.Size()}

	for _, f := range reader.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		archive.Entries = append(archive.Entries, ArchiveEntry{
			Name: f.Name,
			Size: int64(f.UncompressedSize64),
		})

		switch f.Name {
		case SPIDescriptorPath:
			symbols, err := readDescriptor(f)
			if err != nil {
				return nil, fmt.Errorf("read SPI descriptor: %w", err)
			}
			archive.Symbols = symbols

		case ManifestPath:
			manifest, err := readManifest(f)
			if err != nil {
				return nil, fmt.Errorf("read plugin manifest: %w", err)
			}
			archive.Manifest = manifest
		}
	}

	return archive, nil
}

func readDescriptor(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	var symbols []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	return symbols, nil
}

func readManifest(f *zip.File) (*Manifest, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}
