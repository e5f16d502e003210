package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/multidriver/relay/internal/geo"
	v1 "github.com/multidriver/relay/internal/storage/memory/export/v1"
	"github.com/multidriver/relay/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// export writes the session to disk. Must be called with b.mu held.
func (b *Backend) export() error {
	data := &v1.SessionData{
		Session:  b.session,
		Entities: b.order,
	}
	export := v1.Build(data)

	base := b.baseName()
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var outputPath string
	if b.cfg.CompressOutput {
		outputPath = filepath.Join(b.cfg.OutputDir, base+".json.gz")
		if err := writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		outputPath = filepath.Join(b.cfg.OutputDir, base+".json")
		if err := writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	b.lastMetadata = core.UploadMetadata{
		SessionName: b.session.Name,
		Duration:    export.Duration,
		Entities:    len(export.Entities),
		Tag:         b.session.Tag,
	}

	b.lastTrackPath = ""
	tracks, err := b.buildTracks()
	if err != nil {
		return fmt.Errorf("failed to build tracks: %w", err)
	}
	if len(tracks) > 0 {
		trackPath := filepath.Join(b.cfg.OutputDir, base+".geojson")
		if err := writeJSON(trackPath, tracks); err != nil {
			return err
		}
		b.lastTrackPath = trackPath
	}
	return nil
}

// baseName builds "<session>_<start>" with characters unsafe in file names replaced.
func (b *Backend) baseName() string {
	name := b.session.Name
	if name == "" {
		name = "session"
	}
	name = strings.NewReplacer(" ", "_", ":", "_", "/", "_", "\\", "_").Replace(name)
	return fmt.Sprintf("%s_%s", name, b.session.StartTime.Format("20060102_150405"))
}

// buildTracks returns one GeoJSON feature per entity with georeferenced states.
func (b *Backend) buildTracks() (geom.GeoJSONFeatureCollection, error) {
	var features geom.GeoJSONFeatureCollection
	for _, record := range b.order {
		points := make([]core.GeoPosition, 0, len(record.States))
		for _, state := range record.States {
			if state.Geo != nil {
				points = append(points, *state.Geo)
			}
		}
		if len(points) == 0 {
			continue
		}

		g, err := geo.TrackGeometry(points)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", record.Entity.RelayID, err)
		}
		features = append(features, geom.GeoJSONFeature{
			Geometry: g,
			ID:       record.Entity.RelayID,
			Properties: map[string]any{
				"modelPath":  record.Entity.ModelPath,
				"driverName": record.Entity.DriverName,
				"points":     len(points),
			},
		})
	}
	return features, nil
}

func writeJSON(path string, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()
	return encode(f, data)
}

func writeGzipJSON(path string, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := encode(gzWriter, data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}

func encode(w io.Writer, data any) error {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}
