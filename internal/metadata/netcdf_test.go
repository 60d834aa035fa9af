package metadata

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

type cdfWriter struct {
	bytes.Buffer
}

func (w *cdfWriter) u32(v uint32) {
	binary.Write(&w.Buffer, binary.BigEndian, v)
}

func (w *cdfWriter) name(s string) {
	w.u32(uint32(len(s)))
	w.WriteString(s)
	w.Write(make([]byte, pad4(len(s))-len(s)))
}

func (w *cdfWriter) textAttr(name, value string) {
	w.name(name)
	w.u32(2)
	w.u32(uint32(len(value)))
	w.WriteString(value)
	w.Write(make([]byte, pad4(len(value))-len(value)))
}

func (w *cdfWriter) doubles(vals ...float64) {
	for _, v := range vals {
		binary.Write(&w.Buffer, binary.BigEndian, math.Float64bits(v))
	}
}

func (w *cdfWriter) variable(name string, dim uint32, units string, vsize, begin uint32) {
	w.name(name)
	w.u32(1)
	w.u32(dim)
	w.u32(cdfAttribute)
	w.u32(1)
	w.textAttr("units", units)
	w.u32(6)
	w.u32(vsize)
	w.u32(begin)
}

// sampleCDF is a CDF-1 file with lat(2), lon(3) and an unlimited time
// dimension holding two records.
func sampleCDF() []byte {
	header := func(begin uint32) *cdfWriter {
		w := &cdfWriter{}
		w.WriteString("CDF\x01")
		w.u32(2)

		w.u32(cdfDimension)
		w.u32(3)
		w.name("lat")
		w.u32(2)
		w.name("lon")
		w.u32(3)
		w.name("time")
		w.u32(0)

		w.u32(cdfAttribute)
		w.u32(1)
		w.textAttr("title", "test grid")

		w.u32(cdfVariable)
		w.u32(3)
		w.variable("lat", 0, "degrees_north", 16, begin)
		w.variable("lon", 1, "degrees_east", 24, begin+16)
		w.variable("time", 2, "days since 2000-01-01", 8, begin+40)
		return w
	}

	size := uint32(header(0).Len())
	w := header(size)
	w.doubles(10, 20)
	w.doubles(-5, 0, 5)
	w.doubles(0, 31)
	return w.Bytes()
}

// TestParseCDF_Header checks dimensions, attributes and variables.
func TestParseCDF_Header(t *testing.T) {
	f, err := parseCDF(sampleCDF())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Dims) != 3 || !f.Dims[2].Unlimited || f.dimLength(2) != 2 {
		t.Fatalf("unexpected dims: %+v", f.Dims)
	}
	if a, ok := attr(f.Attrs, "title"); !ok || a.String() != "test grid" {
		t.Fatalf("missing title: %+v", f.Attrs)
	}
	if len(f.Vars) != 3 || f.Vars[2].Type.String() != "double" || !f.Vars[2].record {
		t.Fatalf("unexpected vars: %+v", f.Vars)
	}
	vals, err := f.values(f.variable("time"))
	if err != nil || len(vals) != 2 || vals[1] != 31 {
		t.Fatalf("unexpected time values %v: %v", vals, err)
	}
}

// TestNetCDF_ExtractsCoverage checks spatial and temporal coverage output.
func TestNetCDF_ExtractsCoverage(t *testing.T) {
	store := newTestStore(t, map[string]string{
		testResource.Content("climate/grid.nc"): string(sampleCDF()),
	})
	out, err := classify(t, store, testResource.Content("climate/grid.nc")).ExtractMetadata(context.Background())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	cov := out["spatialCoverage"].(map[string]any)
	if cov["westLimit"] != -5.0 || cov["eastLimit"] != 5.0 || cov["southLimit"] != 10.0 || cov["northLimit"] != 20.0 {
		t.Fatalf("unexpected spatial coverage: %v", cov)
	}
	period := out["temporalCoverage"].(map[string]any)
	if period["start"] != "2000-01-01T00:00:00Z" || period["end"] != "2000-02-01T00:00:00Z" {
		t.Fatalf("unexpected temporal coverage: %v", period)
	}
	vars := out["variables"].([]map[string]any)
	if len(vars) != 3 || vars[0]["unit"] != "degrees_north" {
		t.Fatalf("unexpected variables: %v", vars)
	}
	if out["globalAttributes"].(map[string]any)["title"] != "test grid" {
		t.Fatalf("unexpected globals: %v", out["globalAttributes"])
	}
}

// TestNetCDF_HDF5IsExtractionError checks unsupported netCDF-4 input degrades.
func TestNetCDF_HDF5IsExtractionError(t *testing.T) {
	store := newTestStore(t, map[string]string{
		testResource.Content("new.nc"): "\x89HDF\r\n\x1a\nrest",
		testResource.Content("bad.nc"): "CDF\x01\x00",
	})
	_, err := classify(t, store, testResource.Content("new.nc")).ExtractMetadata(context.Background())
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) || !errors.Is(err, errHDF5) {
		t.Fatalf("expected HDF5 extraction error, got %v", err)
	}

	_, err = classify(t, store, testResource.Content("bad.nc")).ExtractMetadata(context.Background())
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected extraction error for truncated header, got %v", err)
	}
}

func TestCFTime(t *testing.T) {
	got, ok := cfTime("hours since 1970-01-01 00:00:00", 36)
	if !ok || got.Format("2006-01-02T15") != "1970-01-02T12" {
		t.Fatalf("unexpected time %v %v", got, ok)
	}
	if _, ok := cfTime("fortnights since 1970-01-01", 1); ok {
		t.Fatal("unknown unit should not parse")
	}
}
