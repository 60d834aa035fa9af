package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hydroshare/hsextract/pkg/types"
	"github.com/jonas-p/go-shp"
	"github.com/spf13/afero"
)

const wgs84WKT = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["Degree",0.017453292519943295],AUTHORITY["EPSG","4326"]]`

// writeShapefile creates a two point shapefile and returns its member files.
func writeShapefile(t *testing.T) map[string][]byte {
	t.Helper()
	dir := t.TempDir()
	w, err := shp.Create(filepath.Join(dir, "wells.shp"), shp.POINT)
	if err != nil {
		t.Fatalf("create shapefile: %v", err)
	}
	w.SetFields([]shp.Field{
		shp.StringField("NAME", 20),
		shp.NumberField("DEPTH", 8),
	})
	for i, p := range []shp.Point{{X: -111.9, Y: 41.7}, {X: -111.8, Y: 41.5}} {
		point := p
		n := int(w.Write(&point))
		w.WriteAttribute(n, 0, []string{"north", "south"}[i])
		w.WriteAttribute(n, 1, 10*(i+1))
	}
	w.Close()

	out := make(map[string][]byte)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		data, err := os.ReadFile(filepath.Join(dir, "wells"+ext))
		if err != nil {
			t.Fatalf("read %s: %v", ext, err)
		}
		out[ext] = data
	}
	return out
}

// TestFeature_ExtractsShapefile checks geometry, fields, extent and CRS.
func TestFeature_ExtractsShapefile(t *testing.T) {
	members := writeShapefile(t)
	files := map[string]string{
		testResource.Content("gis/wells.prj"): wgs84WKT,
	}
	for ext, data := range members {
		files[testResource.Content("gis/wells"+ext)] = string(data)
	}
	store := newTestStore(t, files)

	c := NewClassifier(store, NewStager(afero.NewOsFs(), t.TempDir()))
	obj, err := c.DetermineMetadataObject(context.Background(), testResource.Content("gis/wells.dbf"), true)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if obj.ContentType() != types.ContentTypeFeature {
		t.Fatalf("expected FEATURE, got %s", obj.ContentType())
	}

	out, err := obj.ExtractMetadata(context.Background())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out["geometryType"] != "POINT" || out["featureCount"] != 2 {
		t.Fatalf("unexpected geometry: %v %v", out["geometryType"], out["featureCount"])
	}
	fields := out["fieldInformation"].([]map[string]any)
	if len(fields) != 2 || fields[0]["name"] != "NAME" || fields[0]["type"] != "Character" || fields[1]["type"] != "Numeric" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	cov := out["spatialCoverage"].(map[string]any)
	if cov["westLimit"] != -111.9 || cov["eastLimit"] != -111.8 || cov["southLimit"] != 41.5 || cov["northLimit"] != 41.7 {
		t.Fatalf("unexpected extent: %v", cov)
	}
	if cov["epsg"] != 4326 || cov["projection"] != "GCS_WGS_1984" {
		t.Fatalf("unexpected crs: %v", cov)
	}
}

// TestFeature_CorruptShapefileDegrades checks malformed members are extraction errors.
func TestFeature_CorruptShapefileDegrades(t *testing.T) {
	store := newTestStore(t, map[string]string{
		testResource.Content("bad.shp"): "garbage",
		testResource.Content("bad.shx"): "garbage",
		testResource.Content("bad.dbf"): "garbage",
	})
	c := NewClassifier(store, NewStager(afero.NewOsFs(), t.TempDir()))
	obj, err := c.DetermineMetadataObject(context.Background(), testResource.Content("bad.shp"), true)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if _, err := obj.ExtractMetadata(context.Background()); err == nil {
		t.Fatal("expected extraction error for corrupt shapefile")
	}
}
